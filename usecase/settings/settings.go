package settings

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/fastygo/tasksync/domain"
	"github.com/fastygo/tasksync/repository"
)

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}

// Settings are the device's display preferences.
type Settings struct {
	Theme         Theme `json:"theme"`
	Animations    bool  `json:"animations"`
	Notifications bool  `json:"notifications"`
}

func Defaults() Settings {
	return Settings{Theme: ThemeSystem, Animations: true, Notifications: false}
}

// Patch holds optional updates; nil fields are kept.
type Patch struct {
	Theme         *Theme `json:"theme,omitempty"`
	Animations    *bool  `json:"animations,omitempty"`
	Notifications *bool  `json:"notifications,omitempty"`
}

type Service struct {
	cache  repository.LocalCache
	logger *zap.Logger

	mu      sync.RWMutex
	current Settings
}

// New loads the stored preferences, falling back to defaults.
func New(cache repository.LocalCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{cache: cache, logger: logger, current: Defaults()}
	if cache == nil {
		return s
	}

	raw, ok, err := cache.Read(repository.KeySettings)
	switch {
	case err != nil:
		logger.Warn("settings read failed, using defaults",
			zap.Error(&domain.LocalPersistenceError{Op: "read", Key: repository.KeySettings, Err: err}))
	case ok:
		stored := Defaults()
		if err := json.Unmarshal(raw, &stored); err != nil || !stored.Theme.Valid() {
			logger.Warn("discarding unreadable settings", zap.Error(err))
			break
		}
		s.current = stored
	}
	return s
}

func (s *Service) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Service) Update(p Patch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if p.Theme != nil {
		next.Theme = *p.Theme
	}
	if p.Animations != nil {
		next.Animations = *p.Animations
	}
	if p.Notifications != nil {
		next.Notifications = *p.Notifications
	}
	if err := s.store(next); err != nil {
		return s.current, err
	}
	return next, nil
}

// Replace overwrites every preference, as an import does.
func (s *Service) Replace(next Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(next)
}

func (s *Service) store(next Settings) error {
	if !next.Theme.Valid() {
		return &domain.ValidationError{Reasons: []string{"unknown theme"}}
	}
	s.current = next
	if s.cache == nil {
		return nil
	}
	payload, err := json.Marshal(next)
	if err == nil {
		err = s.cache.Write(repository.KeySettings, payload)
	}
	if err != nil {
		// preferences stay applied for this session
		s.logger.Warn("settings write failed",
			zap.Error(&domain.LocalPersistenceError{Op: "write", Key: repository.KeySettings, Err: err}))
	}
	return nil
}
