package monitor

import (
	"context"
	"sync"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pinger is anything that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger adapts a go-redis client to Pinger.
func RedisPinger(client *redislib.Client) Pinger {
	if client == nil {
		return nil
	}
	return PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// Journal is the local push journal whose size is reported with the status.
type Journal interface {
	Size() (int, error)
}

type Targets struct {
	Postgres Pinger
	Redis    Pinger
	Journal  Journal
}

// Monitor polls the remote dependencies and tells listeners when the agent
// goes online or offline. Online requires both Postgres and Redis.
type Monitor struct {
	targets Targets

	status    Status
	mu        sync.RWMutex
	listeners map[int]func(bool)
	nextID    int
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	logger    *zap.Logger
}

func New(targets Targets, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		targets:   targets,
		interval:  interval,
		listeners: make(map[int]func(bool)),
		stopCh:    make(chan struct{}),
		logger:    logger,
	}
}

func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Online
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// OnChange registers fn for online/offline transitions.
func (m *Monitor) OnChange(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Refresh()
	for {
		select {
		case <-ticker.C:
			m.Refresh()
		case <-m.stopCh:
			return
		}
	}
}

// Refresh runs one round of checks and notifies listeners on a transition.
func (m *Monitor) Refresh() Status {
	journalOK, journalSize := m.checkJournal()
	status := Status{
		PostgreSQL: check(m.targets.Postgres, 3*time.Second),
		Redis:      check(m.targets.Redis, 2*time.Second),
		Buffer:     journalOK,
		BufferSize: journalSize,
		LastCheck:  time.Now(),
	}
	status.Online = status.PostgreSQL && status.Redis

	m.mu.Lock()
	changed := m.status.Online != status.Online || m.status.LastCheck.IsZero()
	m.status = status
	var fns []func(bool)
	if changed {
		for _, fn := range m.listeners {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	if changed {
		m.logger.Info("connectivity changed",
			zap.Bool("online", status.Online),
			zap.Bool("postgresql", status.PostgreSQL),
			zap.Bool("redis", status.Redis))
	}
	for _, fn := range fns {
		fn(status.Online)
	}
	return status
}

func check(p Pinger, timeout time.Duration) bool {
	if p == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Ping(ctx) == nil
}

func (m *Monitor) checkJournal() (bool, int) {
	if m.targets.Journal == nil {
		return false, 0
	}
	size, err := m.targets.Journal.Size()
	if err != nil {
		m.logger.Warn("journal size check failed", zap.Error(err))
		return false, size
	}
	return true, size
}
