package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fastygo/tasksync/domain"
	"github.com/fastygo/tasksync/usecase/settings"
)

// Backup is the portable export document.
type Backup struct {
	Tasks      []domain.Task      `json:"tasks"`
	Settings   *settings.Settings `json:"settings,omitempty"`
	ExportedAt time.Time          `json:"exportedAt"`
}

// Export captures the collection and, when prefs is non-nil, the preferences.
func (s *Store) Export(prefs *settings.Service) Backup {
	b := Backup{Tasks: s.Snapshot(), ExportedAt: s.now().UTC()}
	if prefs != nil {
		current := prefs.Get()
		b.Settings = &current
	}
	return b
}

// Import validates every record and then replaces the collection and
// preferences. Imported records are pushed like local edits.
func (s *Store) Import(raw []byte, prefs *settings.Service) (int, error) {
	var b Backup
	if err := json.Unmarshal(raw, &b); err != nil {
		return 0, domain.WrapError(domain.ErrCodeInvalid, "malformed backup", err)
	}
	if b.Tasks == nil {
		return 0, &domain.ValidationError{Reasons: []string{"backup has no tasks"}}
	}

	seen := make(map[string]struct{}, len(b.Tasks))
	var reasons []string
	for i, t := range b.Tasks {
		if res := domain.Validate(t); !res.Valid {
			for _, e := range res.Errors {
				reasons = append(reasons, fmt.Sprintf("task %d: %s", i, e))
			}
		}
		for _, e := range domain.CheckInvariants(t) {
			reasons = append(reasons, fmt.Sprintf("task %d: %s", i, e))
		}
		if _, dup := seen[t.ID]; dup {
			reasons = append(reasons, fmt.Sprintf("task %d: duplicate id %s", i, t.ID))
		}
		seen[t.ID] = struct{}{}
	}
	if b.Settings != nil && !b.Settings.Theme.Valid() {
		reasons = append(reasons, "settings: unknown theme")
	}
	if len(reasons) > 0 {
		return 0, &domain.ValidationError{Reasons: reasons}
	}

	if _, err := s.Dispatch(domain.ReplaceAll{Tasks: b.Tasks}); err != nil {
		return 0, err
	}
	if b.Settings != nil && prefs != nil {
		if err := prefs.Replace(*b.Settings); err != nil {
			return len(b.Tasks), err
		}
	}
	return len(b.Tasks), nil
}
