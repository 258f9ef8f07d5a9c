package repository

import (
	"context"

	"github.com/fastygo/tasksync/domain"
)

// Subscription is a live feed of remote snapshots. Unsubscribe stops delivery.
type Subscription interface {
	Unsubscribe() error
}

// RemoteStore is the per-user remote copy of the task collection.
// Implementations return records with timestamps normalized to UTC.
type RemoteStore interface {
	FetchAll(ctx context.Context, userID string) ([]domain.Task, error)
	Upsert(ctx context.Context, userID string, task domain.Task) error
	UpsertMany(ctx context.Context, userID string, tasks []domain.Task) error
	Delete(ctx context.Context, userID, taskID string) error
	// Subscribe delivers the full remote collection every time it changes.
	Subscribe(ctx context.Context, userID string, onSnapshot func([]domain.Task), onError func(error)) (Subscription, error)
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error {
	if f == nil {
		return nil
	}
	return f()
}
