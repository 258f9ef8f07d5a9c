package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fastygo/tasksync/domain"
	"github.com/fastygo/tasksync/internal/telemetry"
	"github.com/fastygo/tasksync/repository"
)

// State is the orchestrator's position in the sync lifecycle.
type State string

const (
	StateDisabled        State = "disabled"
	StateUnauthenticated State = "unauthenticated"
	StateSyncing         State = "syncing"
	StateSynced          State = "synced"
)

// TaskStore is the local collection the orchestrator reconciles.
type TaskStore interface {
	Snapshot() domain.Collection
	Replace(tasks []domain.Task) domain.Collection
	MergeRemote(remote []domain.Task) domain.Collection
	Degraded() bool
}

// Outbound is the push queue for local changes.
type Outbound interface {
	Activate(userID string)
	Deactivate()
	Pending() int
}

// Connectivity reports whether the remote side is reachable.
type Connectivity interface {
	IsOnline() bool
	OnChange(fn func(online bool)) func()
}

type Config struct {
	FetchTimeout time.Duration
	PushTimeout  time.Duration
	RetryDelay   time.Duration
}

type Deps struct {
	Store     TaskStore
	Remote    repository.RemoteStore
	Identity  repository.IdentityProvider
	Conn      Connectivity
	Outbound  Outbound
	Telemetry *telemetry.Provider
	Logger    *zap.Logger
	Now       func() time.Time
}

// Status is a point-in-time view of the sync engine.
type Status struct {
	State        State      `json:"state"`
	UserID       string     `json:"userId,omitempty"`
	Online       bool       `json:"online"`
	LastError    *SyncError `json:"-"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	Pending      int        `json:"pending"`
	Degraded     bool       `json:"degraded"`
}

type event interface{}

type authEvent struct{ userID string }

type connEvent struct{ online bool }

type retryEvent struct{ gen int64 }

type initialEvent struct {
	gen  int64
	sub  repository.Subscription
	kind ErrorKind
	err  error
}

// Orchestrator keeps the local store and the remote store converging for the
// signed-in user. Identity, connectivity and retry events are serialized on a
// single loop goroutine.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	logger  *zap.Logger
	tel     *telemetry.Provider
	metrics *telemetry.Metrics

	events chan event
	done   chan struct{}
	cancel context.CancelFunc
	bg     sync.WaitGroup
	unsubs []func()

	// session generation; bumped on every teardown so late callbacks are ignored
	gen atomic.Int64

	mu         sync.RWMutex
	state      State
	userID     string
	online     bool
	lastErr    *SyncError
	lastSynced time.Time

	// owned by the loop goroutine
	session     string
	sub         repository.Subscription
	sessionStop context.CancelFunc
	retry       *time.Timer
}

func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Noop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 15 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}

	metrics, err := telemetry.NewMetrics(deps.Telemetry.Meter)
	if err != nil {
		deps.Logger.Warn("sync metrics unavailable", zap.Error(err))
		metrics, _ = telemetry.NewMetrics(telemetry.Noop().Meter)
	}

	o := &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		logger:  deps.Logger.Named("sync"),
		tel:     deps.Telemetry,
		metrics: metrics,
		events:  make(chan event, 32),
		done:    make(chan struct{}),
		state:   StateUnauthenticated,
	}
	if !o.enabled() {
		o.state = StateDisabled
	}
	return o
}

func (o *Orchestrator) enabled() bool {
	return o.deps.Remote != nil && o.deps.Identity != nil
}

// Start subscribes to identity and connectivity changes and runs the event loop.
func (o *Orchestrator) Start(ctx context.Context) {
	if !o.enabled() {
		close(o.done)
		o.logger.Info("sync disabled")
		return
	}
	ctx, o.cancel = context.WithCancel(ctx)

	o.unsubs = append(o.unsubs, o.deps.Identity.OnAuthChange(func(userID string) {
		o.post(authEvent{userID: userID})
	}))
	online := true
	if o.deps.Conn != nil {
		online = o.deps.Conn.IsOnline()
		o.unsubs = append(o.unsubs, o.deps.Conn.OnChange(func(online bool) {
			o.post(connEvent{online: online})
		}))
	}

	o.mu.Lock()
	o.userID = o.deps.Identity.CurrentUser()
	o.online = online
	o.mu.Unlock()

	go o.loop(ctx)
	o.post(connEvent{online: online})
}

// Stop ends the loop and tears the session down. Pushes already started are
// allowed to finish until ctx expires.
func (o *Orchestrator) Stop(ctx context.Context) {
	for _, unsub := range o.unsubs {
		unsub()
	}
	o.unsubs = nil
	if o.cancel != nil {
		o.cancel()
	}
	<-o.done

	waited := make(chan struct{})
	go func() {
		o.bg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		o.logger.Warn("stopped before background pushes finished")
	}
}

func (o *Orchestrator) post(ev event) bool {
	select {
	case o.events <- ev:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			o.teardown()
			return
		case ev := <-o.events:
			o.handle(ctx, ev)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case authEvent:
		o.mu.Lock()
		o.userID = e.userID
		o.mu.Unlock()
		o.reconcile(ctx)

	case connEvent:
		o.mu.Lock()
		o.online = e.online
		o.mu.Unlock()
		o.reconcile(ctx)

	case retryEvent:
		if e.gen == o.gen.Load() && o.State() == StateSyncing {
			o.startSession(ctx, o.session)
		}

	case initialEvent:
		if e.gen != o.gen.Load() {
			if e.sub != nil {
				_ = e.sub.Unsubscribe()
			}
			return
		}
		if e.err != nil {
			o.recordError(e.kind, e.err)
			if e.sub != nil {
				_ = e.sub.Unsubscribe()
			}
			gen := e.gen
			o.retry = time.AfterFunc(o.cfg.RetryDelay, func() { o.post(retryEvent{gen: gen}) })
			return
		}
		o.sub = e.sub
		// activate before taking the snapshot: an edit landing in between
		// is either in the snapshot or queued by the outbox
		if o.deps.Outbound != nil {
			o.deps.Outbound.Activate(o.session)
		}
		o.push(o.session, o.deps.Store.Snapshot())
		o.mu.Lock()
		o.state = StateSynced
		o.lastSynced = o.deps.Now()
		o.mu.Unlock()
		o.logger.Info("initial sync complete", zap.String("user_id", o.session))
	}
}

// reconcile brings the session in line with the current identity and connectivity.
func (o *Orchestrator) reconcile(ctx context.Context) {
	o.mu.RLock()
	userID, online := o.userID, o.online
	o.mu.RUnlock()

	want := ""
	if online {
		want = userID
	}
	if want == o.session && want != "" {
		return
	}

	o.teardown()
	if want == "" {
		return
	}
	o.startSession(ctx, want)
}

func (o *Orchestrator) startSession(ctx context.Context, userID string) {
	gen := o.gen.Add(1)
	o.session = userID
	if o.sessionStop != nil {
		o.sessionStop()
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	o.sessionStop = cancel

	o.mu.Lock()
	o.state = StateSyncing
	o.mu.Unlock()
	o.logger.Info("starting initial sync", zap.String("user_id", userID))

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		o.initialSync(sessionCtx, gen, userID)
	}()
}

// initialSync subscribes first so no change made during the fetch is missed,
// then merges the fetched collection into the store. The repair push runs on
// the loop once the outbox is active.
func (o *Orchestrator) initialSync(ctx context.Context, gen int64, userID string) {
	ev := initialEvent{gen: gen}

	sub, err := o.deps.Remote.Subscribe(ctx, userID, o.onSnapshot(gen), o.onSubscriptionError(gen))
	if err != nil {
		ev.kind, ev.err = KindSubscribe, err
		o.post(ev)
		return
	}
	ev.sub = sub

	if err := o.fetchAndMerge(ctx, gen, userID); err != nil {
		ev.kind, ev.err = KindFetch, err
	}
	if !o.post(ev) {
		_ = sub.Unsubscribe()
	}
}

// fetchAndMerge adopts the remote collection. The merge runs as one store
// action so edits made while the fetch was in flight are kept.
func (o *Orchestrator) fetchAndMerge(ctx context.Context, gen int64, userID string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	spanCtx, span := o.tel.StartSpan(fetchCtx, "sync.fetch", userID)
	remote, err := o.deps.Remote.FetchAll(spanCtx, userID)
	span.SetAttributes(attribute.Int("tasksync.records", len(remote)))
	telemetry.EndSpan(span, err)
	if err != nil {
		return err
	}

	// a teardown while fetching must not adopt another session's data
	if o.gen.Load() != gen {
		return nil
	}

	_, span = o.tel.StartSpan(ctx, "sync.merge", userID)
	merged := o.deps.Store.MergeRemote(remote)
	span.SetAttributes(attribute.Int("tasksync.records", len(merged)))
	telemetry.EndSpan(span, nil)
	o.metrics.Merges.Add(ctx, 1)

	o.logger.Info("merged remote collection",
		zap.String("user_id", userID),
		zap.Int("remote", len(remote)),
		zap.Int("merged", len(merged)))
	return nil
}

// push uploads the whole collection in the background. A failure is recorded
// as a push error; the local copy is never rolled back.
func (o *Orchestrator) push(userID string, tasks domain.Collection) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PushTimeout)
		defer cancel()
		_ = o.pushAll(ctx, userID, tasks)
	}()
}

func (o *Orchestrator) pushAll(ctx context.Context, userID string, tasks domain.Collection) error {
	ctx, span := o.tel.StartSpan(ctx, "sync.push", userID)
	span.SetAttributes(attribute.Int("tasksync.records", len(tasks)))
	err := o.deps.Remote.UpsertMany(ctx, userID, tasks)
	telemetry.EndSpan(span, err)
	if err != nil {
		o.PushFailed(err)
		return err
	}
	o.Pushed(len(tasks))
	return nil
}

func (o *Orchestrator) onSnapshot(gen int64) func([]domain.Task) {
	return func(tasks []domain.Task) {
		if o.gen.Load() != gen || o.State() != StateSynced {
			return
		}
		// Adopted as-is: edits still waiting in the push debounce are overwritten.
		o.deps.Store.Replace(tasks)
		o.metrics.Snapshots.Add(context.Background(), 1)
		o.mu.Lock()
		o.lastSynced = o.deps.Now()
		o.mu.Unlock()
	}
}

func (o *Orchestrator) onSubscriptionError(gen int64) func(error) {
	return func(err error) {
		if o.gen.Load() != gen {
			return
		}
		o.recordError(KindSubscribe, err)
	}
}

// teardown cancels the subscription and stops pushing. Local data is kept.
func (o *Orchestrator) teardown() {
	o.gen.Add(1)
	if o.retry != nil {
		o.retry.Stop()
		o.retry = nil
	}
	if o.sessionStop != nil {
		o.sessionStop()
		o.sessionStop = nil
	}
	if o.sub != nil {
		if err := o.sub.Unsubscribe(); err != nil {
			o.logger.Warn("unsubscribe failed", zap.Error(err))
		}
		o.sub = nil
	}
	if o.session != "" {
		if o.deps.Outbound != nil {
			o.deps.Outbound.Deactivate()
		}
		o.logger.Info("sync session ended", zap.String("user_id", o.session))
	}
	o.session = ""

	o.mu.Lock()
	o.state = StateUnauthenticated
	o.mu.Unlock()
}

// Resync pushes the whole local collection without fetching or merging.
func (o *Orchestrator) Resync(ctx context.Context) error {
	if !o.enabled() {
		return domain.ErrSyncDisabled
	}
	userID := o.deps.Identity.CurrentUser()
	if userID == "" {
		return domain.ErrNotSignedIn
	}
	return o.pushAll(ctx, userID, o.deps.Store.Snapshot())
}

// AcknowledgeError clears the sticky error condition.
func (o *Orchestrator) AcknowledgeError() {
	o.mu.Lock()
	o.lastErr = nil
	o.mu.Unlock()
}

// Pushed records a successful push of n records.
func (o *Orchestrator) Pushed(n int) {
	o.metrics.Pushes.Add(context.Background(), int64(n))
	o.mu.Lock()
	o.lastSynced = o.deps.Now()
	o.mu.Unlock()
}

// PushFailed records a failed push.
func (o *Orchestrator) PushFailed(err error) {
	o.metrics.PushFailures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(KindPush))))
	o.recordError(KindPush, err)
}

func (o *Orchestrator) recordError(kind ErrorKind, err error) {
	if err == nil {
		return
	}
	syncErr := &SyncError{Kind: kind, Err: err, At: o.deps.Now()}
	o.mu.Lock()
	o.lastErr = syncErr
	o.mu.Unlock()
	o.logger.Warn("sync error", zap.String("kind", string(kind)), zap.Error(err))
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LastError returns the unacknowledged error, or nil.
func (o *Orchestrator) LastError() *SyncError {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastErr
}

func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	st := Status{
		State:     o.state,
		UserID:    o.userID,
		Online:    o.online,
		LastError: o.lastErr,
	}
	if !o.lastSynced.IsZero() {
		t := o.lastSynced
		st.LastSyncedAt = &t
	}
	o.mu.RUnlock()

	if o.deps.Outbound != nil {
		st.Pending = o.deps.Outbound.Pending()
	}
	if o.deps.Store != nil {
		st.Degraded = o.deps.Store.Degraded()
	}
	return st
}
