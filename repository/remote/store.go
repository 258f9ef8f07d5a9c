package remote

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/tasksync/domain"
	"github.com/fastygo/tasksync/repository"
	redisrepo "github.com/fastygo/tasksync/repository/redis"
)

// Table is the durable per-user task table.
type Table interface {
	FetchAll(ctx context.Context, userID string) ([]domain.Task, error)
	Upsert(ctx context.Context, userID string, task domain.Task) error
	UpsertMany(ctx context.Context, userID string, tasks []domain.Task) error
	Delete(ctx context.Context, userID, taskID string) error
}

// Notifier announces and listens for per-user change events.
type Notifier interface {
	Publish(ctx context.Context, ev redisrepo.ChangeEvent) error
	Listen(ctx context.Context, userID string, onEvent func(redisrepo.ChangeEvent), onError func(error)) (stop func(), err error)
}

// Store combines a task table with change notifications into a RemoteStore.
// Every successful write publishes an event; subscribers re-fetch the whole
// collection on each event.
type Store struct {
	table        Table
	notifier     Notifier
	logger       *zap.Logger
	fetchTimeout time.Duration
}

func New(table Table, notifier Notifier, fetchTimeout time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Store{
		table:        table,
		notifier:     notifier,
		logger:       logger,
		fetchTimeout: fetchTimeout,
	}
}

func (s *Store) FetchAll(ctx context.Context, userID string) ([]domain.Task, error) {
	return s.table.FetchAll(ctx, userID)
}

func (s *Store) Upsert(ctx context.Context, userID string, task domain.Task) error {
	if err := s.table.Upsert(ctx, userID, task); err != nil {
		return err
	}
	s.publish(ctx, userID, "upsert", []string{task.ID})
	return nil
}

func (s *Store) UpsertMany(ctx context.Context, userID string, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := s.table.UpsertMany(ctx, userID, tasks); err != nil {
		return err
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	s.publish(ctx, userID, "upsert", ids)
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, taskID string) error {
	if err := s.table.Delete(ctx, userID, taskID); err != nil {
		return err
	}
	s.publish(ctx, userID, "delete", []string{taskID})
	return nil
}

func (s *Store) Subscribe(ctx context.Context, userID string, onSnapshot func([]domain.Task), onError func(error)) (repository.Subscription, error) {
	if userID == "" {
		return nil, domain.ErrNotSignedIn
	}
	if onError == nil {
		onError = func(error) {}
	}

	stop, err := s.notifier.Listen(ctx, userID, func(ev redisrepo.ChangeEvent) {
		fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
		tasks, err := s.table.FetchAll(fetchCtx, userID)
		if err != nil {
			onError(err)
			return
		}
		onSnapshot(tasks)
	}, onError)
	if err != nil {
		return nil, err
	}

	return repository.SubscriptionFunc(func() error {
		stop()
		return nil
	}), nil
}

// The write already succeeded; a lost notification only delays other devices.
func (s *Store) publish(ctx context.Context, userID, op string, ids []string) {
	if s.notifier == nil {
		return
	}
	ev := redisrepo.ChangeEvent{UserID: userID, Op: op, TaskIDs: ids, At: time.Now().UTC()}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish change event failed", zap.String("user_id", userID), zap.String("op", op), zap.Error(err))
	}
}

var _ repository.RemoteStore = (*Store)(nil)
