package repository

import (
	"context"

	"github.com/fastygo/tasksync/domain"
)

type SessionRepository interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, id string) error
	Extend(ctx context.Context, id string, ttlSeconds int) error
}

// IdentityProvider reports who is signed in. Listeners receive the new user id,
// or an empty string on sign-out.
type IdentityProvider interface {
	CurrentUser() string
	OnAuthChange(fn func(userID string)) (unsubscribe func())
}
