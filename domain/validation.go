package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxTextLength is the longest task text accepted, in characters.
const MaxTextLength = 500

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Err returns the result as a *ValidationError, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Reasons: append([]string(nil), r.Errors...)}
}

// Validate checks a record independently on every field and reports all failures together.
func Validate(t Task) ValidationResult {
	var errs []string

	if strings.TrimSpace(t.ID) == "" {
		errs = append(errs, "task id is required")
	}
	if strings.TrimSpace(t.Text) == "" {
		errs = append(errs, "task text is required")
	}
	if utf8.RuneCountInString(t.Text) > MaxTextLength {
		errs = append(errs, "task text must be at most 500 characters")
	}
	if !t.Category.Valid() {
		errs = append(errs, "valid category is required")
	}
	if !t.Status.Valid() {
		errs = append(errs, "valid status is required")
	}
	if !t.Priority.Valid() {
		errs = append(errs, "valid priority is required")
	}
	if t.CreatedAt.IsZero() {
		errs = append(errs, "valid createdAt timestamp is required")
	}
	if t.UpdatedAt.IsZero() {
		errs = append(errs, "valid updatedAt timestamp is required")
	}
	if t.Order < 0 {
		errs = append(errs, "order must be a non-negative number")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// CheckInvariants reports status and timestamp combinations that Validate
// does not cover because they span fields.
func CheckInvariants(t Task) []string {
	var errs []string
	switch t.Status {
	case StatusActive:
		if t.CompletedAt != nil {
			errs = append(errs, "active task must not carry completedAt")
		}
	case StatusCompleted:
		if t.CompletedAt == nil {
			errs = append(errs, "completed task requires completedAt")
		}
	case StatusDeleted:
		if t.DeletedAt == nil {
			errs = append(errs, "deleted task requires deletedAt")
		}
	}
	return errs
}

// SanitizeText trims the text, strips angle brackets and truncates it to MaxTextLength characters.
func SanitizeText(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.NewReplacer("<", "", ">", "").Replace(cleaned)
	if utf8.RuneCountInString(cleaned) > MaxTextLength {
		runes := []rune(cleaned)
		cleaned = string(runes[:MaxTextLength])
	}
	return cleaned
}
