package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownFunc describes a graceful shutdown callback.
type ShutdownFunc func(ctx context.Context) error

type hook struct {
	name string
	fn   ShutdownFunc
}

// Manager coordinates graceful shutdown hooks and reacts to OS signals.
// Components register in start order and are stopped in reverse.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	hooks    []hook
	shutdown bool
}

// New creates a lifecycle manager with the desired timeout.
func New(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a shutdown hook. Hooks registered after Shutdown run immediately.
func (m *Manager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.run(context.Background(), hook{name: name, fn: fn})
		return
	}
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
	m.mu.Unlock()
}

// Shutdown executes all registered hooks once, respecting the configured timeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.Lock()
	hooks := m.hooks
	m.hooks = nil
	m.shutdown = true
	m.mu.Unlock()

	var result error
	for i := len(hooks) - 1; i >= 0; i-- {
		result = errors.Join(result, m.run(ctx, hooks[i]))
	}
	return result
}

func (m *Manager) run(ctx context.Context, h hook) error {
	started := time.Now()
	if err := h.fn(ctx); err != nil {
		m.logger.Error("shutdown hook failed", zap.String("component", h.name), zap.Error(err))
		return err
	}
	m.logger.Info("component stopped", zap.String("component", h.name), zap.Duration("took", time.Since(started)))
	return nil
}

// Listen waits in the background for an OS termination signal and then invokes the provided cancel function.
func (m *Manager) Listen(cancel context.CancelFunc) {
	if cancel == nil {
		return
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(sigCh)
		sig := <-sigCh
		m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()
}
