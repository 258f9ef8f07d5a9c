package task

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/tasksync/domain"
	"github.com/fastygo/tasksync/repository"
	"github.com/fastygo/tasksync/usecase"
)

type Options struct {
	Cache  repository.LocalCache
	Logger *zap.Logger
	// Now and NewID default to the wall clock and random UUIDs.
	Now   func() time.Time
	NewID func() string
}

// Store owns the authoritative task collection of this device. Every change
// goes through a single dispatch path that reduces, swaps, schedules
// persistence and hands the affected ids to the change sink.
type Store struct {
	mu        sync.RWMutex
	tasks     domain.Collection
	sink      usecase.ChangeSink
	observers map[int]func(domain.Collection)
	nextObs   int

	persist *persister
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Store{
		tasks:     domain.Collection{},
		observers: make(map[int]func(domain.Collection)),
		persist:   newPersister(opts.Cache, repository.KeyTasks, opts.Logger),
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
	}
}

// SetSink installs the receiver of local changes. A nil sink disables pushing.
func (s *Store) SetSink(sink usecase.ChangeSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Load reads the persisted collection. A missing key yields an empty
// collection. A failing cache switches the store to memory-only; the returned
// *domain.LocalPersistenceError is informational and the store stays usable.
func (s *Store) Load() error {
	raw, ok, readErr := s.persist.read()
	tasks := domain.Collection{}
	if ok {
		if err := json.Unmarshal(raw, &tasks); err != nil {
			s.logger.Warn("discarding unreadable task cache", zap.Error(err))
			tasks = domain.Collection{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next, _ := domain.Apply(s.tasks, domain.ReplaceAll{Tasks: tasks})
	s.tasks = next
	s.notify(next)
	return readErr
}

// Dispatch applies a local action. Affected ids are handed to the change sink.
func (s *Store) Dispatch(a domain.Action) (domain.Collection, error) {
	return s.dispatch(a, true)
}

// Replace adopts a collection from the remote side without pushing it back.
func (s *Store) Replace(tasks []domain.Task) domain.Collection {
	out, _ := s.dispatch(domain.ReplaceAll{Tasks: tasks}, false)
	return out
}

// MergeRemote reconciles the collection with a fetched remote one in a single
// step, so local edits made while the fetch was in flight are kept. The
// result is not pushed back to the sink.
func (s *Store) MergeRemote(remote []domain.Task) domain.Collection {
	out, _ := s.dispatch(domain.MergeRemote{Remote: remote}, false)
	return out
}

func (s *Store) dispatch(a domain.Action, local bool) (domain.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.tasks
	next, err := domain.Apply(prev, a)
	if err != nil {
		return prev.Clone(), err
	}

	changes := domain.Diff(prev, next)
	if local && changes.Empty() {
		return next.Clone(), nil
	}

	s.tasks = next
	s.persist.schedule(next)
	if local && s.sink != nil {
		s.sink.Enqueue(changes.Upserted, changes.Removed)
	}
	s.notify(next)

	s.logger.Debug("task action applied",
		zap.String("action", domain.ActionName(a)),
		zap.Int("upserted", len(changes.Upserted)),
		zap.Int("removed", len(changes.Removed)),
	)
	return next.Clone(), nil
}

// notify runs with s.mu held; observers must not call back into the store.
func (s *Store) notify(c domain.Collection) {
	for _, fn := range s.observers {
		fn(c.Clone())
	}
}

// OnChange registers fn to receive every new collection.
func (s *Store) OnChange(fn func(domain.Collection)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) Snapshot() domain.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks.Clone()
}

func (s *Store) Get(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks.Find(id)
}

// Degraded reports whether local persistence failed and the store is memory-only.
func (s *Store) Degraded() bool {
	return s.persist.degraded()
}

// Close flushes the pending snapshot to the local cache.
func (s *Store) Close() error {
	s.persist.close()
	return nil
}

func (s *Store) Create(text string, category domain.Category, priority domain.Priority) (domain.Task, error) {
	id := s.newID()
	if _, err := s.Dispatch(domain.CreateTask{ID: id, Text: text, Category: category, Priority: priority, At: s.now()}); err != nil {
		return domain.Task{}, err
	}
	return s.found(id)
}

func (s *Store) Update(id string, patch domain.Patch) (domain.Task, error) {
	if patch.Category != nil && !patch.Category.Valid() {
		return domain.Task{}, &domain.ValidationError{Reasons: []string{"unknown category"}}
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return domain.Task{}, &domain.ValidationError{Reasons: []string{"unknown priority"}}
	}
	if patch.Text != nil && domain.SanitizeText(*patch.Text) == "" {
		return domain.Task{}, &domain.ValidationError{Reasons: []string{"text is required"}}
	}
	return s.transition(id, domain.UpdateTask{ID: id, Patch: patch, At: s.now()})
}

func (s *Store) Complete(id string) (domain.Task, error) {
	return s.transition(id, domain.CompleteTask{ID: id, At: s.now()})
}

func (s *Store) Uncomplete(id string) (domain.Task, error) {
	return s.transition(id, domain.UncompleteTask{ID: id, At: s.now()})
}

func (s *Store) Delete(id string) (domain.Task, error) {
	return s.transition(id, domain.SoftDeleteTask{ID: id, At: s.now()})
}

func (s *Store) Restore(id string) (domain.Task, error) {
	return s.transition(id, domain.RestoreTask{ID: id, At: s.now()})
}

// Reorder moves one record inside the (category, status) list and returns that list.
func (s *Store) Reorder(category domain.Category, status domain.Status, from, to int) (domain.Collection, error) {
	out, err := s.Dispatch(domain.ReorderTasks{Category: category, Status: status, From: from, To: to, At: s.now()})
	if err != nil {
		return nil, err
	}
	return domain.Subsequence(out, category, status), nil
}

// ClearCompleted removes every completed record and returns how many were dropped.
func (s *Store) ClearCompleted() int {
	before := len(s.Snapshot())
	out, _ := s.Dispatch(domain.ClearCompleted{})
	return before - len(out)
}

func (s *Store) transition(id string, a domain.Action) (domain.Task, error) {
	if _, ok := s.Get(id); !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if _, err := s.Dispatch(a); err != nil {
		return domain.Task{}, err
	}
	return s.found(id)
}

func (s *Store) found(id string) (domain.Task, error) {
	task, ok := s.Get(id)
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, nil
}

// persister writes the latest snapshot to the local cache off the caller's path.
// Only the newest pending snapshot is written.
type persister struct {
	cache  repository.LocalCache
	key    string
	logger *zap.Logger

	mu      sync.Mutex
	pending domain.Collection
	dirty   bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	failed  atomic.Bool
}

func newPersister(cache repository.LocalCache, key string, logger *zap.Logger) *persister {
	p := &persister{
		cache:  cache,
		key:    key,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if cache == nil {
		p.failed.Store(true)
		close(p.done)
		return p
	}
	go p.loop()
	return p
}

func (p *persister) read() ([]byte, bool, error) {
	if p.failed.Load() {
		return nil, false, nil
	}
	raw, ok, err := p.cache.Read(p.key)
	if err != nil {
		perr := &domain.LocalPersistenceError{Op: "read", Key: p.key, Err: err}
		p.fail(perr)
		return nil, false, perr
	}
	return raw, ok, nil
}

func (p *persister) schedule(c domain.Collection) {
	if p.failed.Load() {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending = c
	p.dirty = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) loop() {
	defer close(p.done)
	for range p.wake {
		p.mu.Lock()
		c, dirty, closed := p.pending, p.dirty, p.closed
		p.pending, p.dirty = nil, false
		p.mu.Unlock()

		if dirty && !p.failed.Load() {
			p.write(c)
		}
		if closed {
			return
		}
	}
}

func (p *persister) write(c domain.Collection) {
	if c == nil {
		c = domain.Collection{}
	}
	payload, err := json.Marshal(c)
	if err == nil {
		err = p.cache.Write(p.key, payload)
	}
	if err != nil {
		p.fail(&domain.LocalPersistenceError{Op: "write", Key: p.key, Err: err})
	}
}

func (p *persister) fail(err error) {
	if p.failed.Swap(true) {
		return
	}
	p.logger.Error("local cache unavailable, continuing in memory only", zap.Error(err))
}

func (p *persister) degraded() bool {
	return p.cache != nil && p.failed.Load()
}

func (p *persister) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.cache != nil {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	<-p.done
}
