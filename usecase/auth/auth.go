package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/fastygo/tasksync/domain"
	"github.com/fastygo/tasksync/repository"
)

type Config struct {
	Secret     string
	Issuer     string
	DeviceID   string
	SessionTTL time.Duration
}

// Provider is the identity source for sync. A user is signed in with a signed
// token; the resulting session is kept in the session repository under the
// device id so it survives restarts.
type Provider struct {
	cfg      Config
	sessions repository.SessionRepository
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	current   string
	listeners map[int]func(string)
	nextID    int
}

func New(cfg Config, sessions repository.SessionRepository, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "default"
	}
	return &Provider{
		cfg:       cfg,
		sessions:  sessions,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func(string)),
	}
}

func (p *Provider) CurrentUser() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// OnAuthChange registers fn for sign-in and sign-out notifications.
func (p *Provider) OnAuthChange(fn func(userID string)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// ParseToken verifies an HS256 token and returns its user id and expiry.
func (p *Provider) ParseToken(tokenString string) (string, time.Time, error) {
	if p.cfg.Secret == "" {
		return "", time.Time{}, domain.ErrSyncDisabled
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(p.cfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return "", time.Time{}, domain.WrapError(domain.ErrCodeUnauthorized, "invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", time.Time{}, domain.ErrUnauthorized
	}
	if p.cfg.Issuer != "" && !claims.VerifyIssuer(p.cfg.Issuer, true) {
		return "", time.Time{}, domain.NewError(domain.ErrCodeUnauthorized, "unexpected token issuer")
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return "", time.Time{}, domain.NewError(domain.ErrCodeUnauthorized, "token has no user_id claim")
	}

	expires := p.now().Add(p.cfg.SessionTTL)
	if exp, ok := claims["exp"].(float64); ok {
		expires = time.Unix(int64(exp), 0)
	}
	return userID, expires.UTC(), nil
}

// SignIn verifies the token, stores the session and notifies listeners.
func (p *Provider) SignIn(ctx context.Context, tokenString string) (*domain.Session, error) {
	userID, expires, err := p.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:        p.cfg.DeviceID,
		UserID:    userID,
		Issuer:    p.cfg.Issuer,
		DeviceID:  p.cfg.DeviceID,
		CreatedAt: p.now().UTC(),
		ExpiresAt: expires,
	}
	if p.sessions != nil {
		if err := p.sessions.Save(ctx, session); err != nil {
			return nil, err
		}
	}

	p.logger.Info("user signed in", zap.String("user_id", userID))
	p.setUser(userID)
	return session, nil
}

// SignOut forgets the session. Local data is kept.
func (p *Provider) SignOut(ctx context.Context) error {
	if p.CurrentUser() == "" {
		return nil
	}
	if p.sessions != nil {
		if err := p.sessions.Delete(ctx, p.cfg.DeviceID); err != nil {
			p.logger.Warn("session delete failed", zap.Error(err))
		}
	}
	p.logger.Info("user signed out")
	p.setUser("")
	return nil
}

// Restore resumes the session saved for this device, if any.
func (p *Provider) Restore(ctx context.Context) (*domain.Session, error) {
	if p.sessions == nil {
		return nil, domain.ErrSessionNotFound
	}
	session, err := p.sessions.Get(ctx, p.cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	if session.IsExpired(p.now()) {
		_ = p.sessions.Delete(ctx, p.cfg.DeviceID)
		return nil, domain.ErrSessionNotFound
	}
	p.setUser(session.UserID)
	return session, nil
}

// Refresh extends the current session's lifetime.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.CurrentUser() == "" {
		return domain.ErrNotSignedIn
	}
	if p.sessions == nil {
		return nil
	}
	err := p.sessions.Extend(ctx, p.cfg.DeviceID, int(p.cfg.SessionTTL.Seconds()))
	if errors.Is(err, domain.ErrSessionNotFound) {
		p.setUser("")
	}
	return err
}

func (p *Provider) setUser(userID string) {
	p.mu.Lock()
	if p.current == userID {
		p.mu.Unlock()
		return
	}
	p.current = userID
	fns := make([]func(string), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(userID)
	}
}

var _ repository.IdentityProvider = (*Provider)(nil)
