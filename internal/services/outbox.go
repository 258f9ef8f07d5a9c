package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/tasksync/domain"
	"github.com/fastygo/tasksync/internal/infrastructure/buffer"
	"github.com/fastygo/tasksync/repository"
	"github.com/fastygo/tasksync/usecase"
)

// ConnectionHealth abstracts the connection monitor functionality.
type ConnectionHealth interface {
	IsOnline() bool
}

// TaskSource returns the current version of a record.
type TaskSource interface {
	Get(id string) (domain.Task, bool)
}

// PushReporter is told about every push outcome.
type PushReporter interface {
	Pushed(n int)
	PushFailed(err error)
}

// OutboxConfig controls debouncing and how often the journal is drained.
type OutboxConfig struct {
	Debounce    time.Duration
	Interval    time.Duration
	PushTimeout time.Duration
	BatchSize   int
	MaxRetries  int
	// Retention drops journal entries older than this; zero keeps them forever.
	Retention time.Duration
}

// Outbox pushes local changes to the remote store. Changes are keyed by record
// id so a burst of edits to one record results in a single push of its latest
// version. Failed pushes are journaled and retried on a schedule.
type Outbox struct {
	remote   repository.RemoteStore
	source   TaskSource
	journal  *buffer.Store
	monitor  ConnectionHealth
	logger   *zap.Logger
	cron     *cron.Cron
	cfg      OutboxConfig
	reporter PushReporter

	mu      sync.Mutex
	userID  string
	pending map[string]string
	timer   *time.Timer
	flushes sync.WaitGroup
}

func NewOutbox(
	remote repository.RemoteStore,
	source TaskSource,
	journal *buffer.Store,
	monitor ConnectionHealth,
	logger *zap.Logger,
	cfg OutboxConfig,
) *Outbox {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	if cfg.Interval < time.Second {
		cfg.Interval = 30 * time.Second
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Outbox{
		remote:  remote,
		source:  source,
		journal: journal,
		monitor: monitor,
		logger:  logger,
		cfg:     cfg,
		cron:    cron.New(cron.WithSeconds()),
		pending: make(map[string]string),
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	_, _ = o.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := o.Drain(ctx); err != nil {
			o.logger.Error("outbox drain failed", zap.Error(err))
		}
	})
	if cfg.Retention > 0 {
		_, _ = o.cron.AddFunc("@every 1h", func() { o.Prune(time.Now()) })
	}

	return o
}

// Prune removes journal entries that have been retried past the retention window.
func (o *Outbox) Prune(now time.Time) int {
	if o.cfg.Retention <= 0 {
		return 0
	}
	removed, err := o.journal.Cleanup(now.Add(-o.cfg.Retention))
	if err != nil {
		o.logger.Warn("journal cleanup failed", zap.Error(err))
		return removed
	}
	if removed > 0 {
		o.logger.Info("expired journal entries dropped", zap.Int("count", removed))
	}
	return removed
}

// SetReporter installs the receiver of push outcomes.
func (o *Outbox) SetReporter(r PushReporter) {
	o.mu.Lock()
	o.reporter = r
	o.mu.Unlock()
}

// Start launches the journal drain scheduler.
func (o *Outbox) Start() {
	o.cron.Start()
	o.logger.Info("outbox started", zap.Duration("debounce", o.cfg.Debounce), zap.Duration("interval", o.cfg.Interval))
}

// Stop halts the scheduler and waits for running pushes.
func (o *Outbox) Stop(ctx context.Context) {
	o.Deactivate()
	stopCtx := o.cron.Stop()
	done := make(chan struct{})
	go func() {
		o.flushes.Wait()
		close(done)
	}()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	o.logger.Info("outbox stopped")
}

// Activate starts accepting changes on behalf of userID and retries whatever
// the journal holds for that user.
func (o *Outbox) Activate(userID string) {
	o.mu.Lock()
	o.userID = userID
	o.mu.Unlock()

	if o.journal == nil || userID == "" {
		return
	}
	o.flushes.Add(1)
	go func() {
		defer o.flushes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PushTimeout)
		defer cancel()
		if err := o.Drain(ctx); err != nil {
			o.logger.Warn("outbox drain on activation failed", zap.Error(err))
		}
	}()
}

// Deactivate stops accepting changes. Changes that were still waiting for the
// debounce are journaled for the next activation of the same user.
func (o *Outbox) Deactivate() {
	o.mu.Lock()
	userID := o.userID
	pending := o.pending
	o.userID = ""
	o.pending = make(map[string]string)
	o.disarmLocked()
	o.mu.Unlock()

	if userID == "" || len(pending) == 0 {
		return
	}
	for id, op := range pending {
		o.journalItem(buffer.Item{UserID: userID, TaskID: id, Operation: op}, nil)
	}
}

// Active reports the user the outbox pushes for, or "".
func (o *Outbox) Active() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userID
}

// Enqueue marks records for pushing. Changes are dropped while inactive.
func (o *Outbox) Enqueue(upserted, removed []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.userID == "" {
		return
	}
	for _, id := range upserted {
		o.pending[id] = buffer.OperationUpsert
	}
	for _, id := range removed {
		o.pending[id] = buffer.OperationDelete
	}
	if len(o.pending) == 0 {
		return
	}
	o.disarmLocked()
	o.flushes.Add(1)
	o.timer = time.AfterFunc(o.cfg.Debounce, o.onTimer)
}

// disarmLocked cancels the debounce timer. Every armed timer holds one count
// on flushes, released here when the timer is stopped before firing or by
// onTimer otherwise.
func (o *Outbox) disarmLocked() {
	if o.timer == nil {
		return
	}
	if o.timer.Stop() {
		o.flushes.Done()
	}
	o.timer = nil
}

// Pending returns the number of changes not yet confirmed by the remote store.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	n := len(o.pending)
	o.mu.Unlock()
	if o.journal != nil {
		if size, err := o.journal.Size(); err == nil {
			n += size
		}
	}
	return n
}

func (o *Outbox) onTimer() {
	defer o.flushes.Done()

	// pushes are not tied to the session so teardown never cancels them
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PushTimeout)
	defer cancel()
	_ = o.Flush(ctx)
}

// Flush pushes every pending change now.
func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	userID := o.userID
	pending := o.pending
	o.pending = make(map[string]string)
	o.disarmLocked()
	reporter := o.reporter
	o.mu.Unlock()

	if userID == "" || len(pending) == 0 {
		return nil
	}

	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		upserts []domain.Task
		errs    []error
		pushed  int
	)
	for _, id := range ids {
		if pending[id] == buffer.OperationDelete {
			if err := o.remote.Delete(ctx, userID, id); err != nil {
				o.journalItem(buffer.Item{UserID: userID, TaskID: id, Operation: buffer.OperationDelete}, err)
				errs = append(errs, err)
				continue
			}
			pushed++
			continue
		}
		if task, ok := o.source.Get(id); ok {
			upserts = append(upserts, task)
		}
	}

	var err error
	switch len(upserts) {
	case 0:
	case 1:
		err = o.remote.Upsert(ctx, userID, upserts[0])
	default:
		err = o.remote.UpsertMany(ctx, userID, upserts)
	}
	if err != nil {
		for _, t := range upserts {
			o.journalItem(buffer.Item{UserID: userID, TaskID: t.ID, Operation: buffer.OperationUpsert}, err)
		}
		errs = append(errs, err)
	} else {
		pushed += len(upserts)
	}

	result := errors.Join(errs...)
	o.report(reporter, pushed, result)
	if result != nil {
		o.logger.Warn("push failed", zap.String("user_id", userID), zap.Int("records", len(ids)), zap.Error(result))
		return result
	}
	o.logger.Debug("changes pushed", zap.String("user_id", userID), zap.Int("records", pushed))
	return nil
}

// Drain retries journaled pushes of the active user.
func (o *Outbox) Drain(ctx context.Context) error {
	if o.journal == nil {
		return nil
	}
	userID := o.Active()
	if userID == "" {
		return nil
	}
	if o.monitor != nil && !o.monitor.IsOnline() {
		o.logger.Debug("skipping outbox drain (offline)")
		return nil
	}

	items, err := o.journal.GetBatch(userID, o.cfg.BatchSize)
	if err != nil {
		return err
	}

	o.mu.Lock()
	reporter := o.reporter
	o.mu.Unlock()

	pushed := 0
	var lastErr error
	for _, item := range items {
		if err := o.retry(ctx, item); err != nil {
			lastErr = err
			if item.Retries+1 >= o.cfg.MaxRetries {
				o.logger.Warn("dropping journaled push (max retries reached)",
					zap.String("task_id", item.TaskID), zap.String("operation", item.Operation), zap.Error(err))
				_ = o.journal.Remove(item)
				continue
			}
			if err := o.journal.Requeue(item, err); err != nil {
				o.logger.Error("failed to requeue journaled push", zap.Error(err))
			}
			continue
		}
		pushed++
		if err := o.journal.Remove(item); err != nil {
			o.logger.Warn("failed to purge journaled push", zap.Error(err))
		}
	}

	if len(items) > 0 {
		o.report(reporter, pushed, lastErr)
	}
	return nil
}

func (o *Outbox) retry(ctx context.Context, item buffer.Item) error {
	switch item.Operation {
	case buffer.OperationDelete:
		return o.remote.Delete(ctx, item.UserID, item.TaskID)
	case buffer.OperationUpsert:
		task, ok := o.source.Get(item.TaskID)
		if !ok {
			// removed locally since; its delete was queued separately
			return nil
		}
		return o.remote.Upsert(ctx, item.UserID, task)
	default:
		return fmt.Errorf("unsupported operation %s", item.Operation)
	}
}

func (o *Outbox) journalItem(item buffer.Item, cause error) {
	if o.journal == nil {
		return
	}
	if cause != nil {
		item.LastError = cause.Error()
	}
	if err := o.journal.Enqueue(item); err != nil {
		o.logger.Error("failed to journal push", zap.String("task_id", item.TaskID), zap.Error(err))
	}
}

func (o *Outbox) report(r PushReporter, pushed int, err error) {
	if r == nil {
		return
	}
	if pushed > 0 {
		r.Pushed(pushed)
	}
	if err != nil {
		r.PushFailed(err)
	}
}

var _ usecase.ChangeSink = (*Outbox)(nil)
