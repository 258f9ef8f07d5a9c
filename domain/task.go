package domain

import (
	"slices"
	"sort"
	"time"
)

// Status is the lifecycle state of a task record.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusDeleted:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Category is a key into the closed set of task categories.
type Category string

const (
	CategoryWork    Category = "work"
	CategoryPrivate Category = "private"
	CategoryStudy   Category = "study"
)

// CategoryInfo carries display metadata for a category.
type CategoryInfo struct {
	Key   Category `json:"key"`
	Label string   `json:"label"`
	Order int      `json:"order"`
}

// Categories lists the known categories in display order.
var Categories = []CategoryInfo{
	{Key: CategoryWork, Label: "Work", Order: 1},
	{Key: CategoryPrivate, Label: "Private", Order: 2},
	{Key: CategoryStudy, Label: "Study", Order: 3},
}

func (c Category) Valid() bool {
	for _, info := range Categories {
		if info.Key == c {
			return true
		}
	}
	return false
}

// Task is a single user-owned task record.
type Task struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Category    Category   `json:"category"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	Order       int64      `json:"order"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	DeletedAt   *time.Time `json:"deletedAt"`
	SyncedAt    *time.Time `json:"syncedAt"`
}

func (t *Task) IsCompleted() bool {
	return t != nil && t.Status == StatusCompleted
}

// EffectiveTime is the modification time used for conflict resolution.
func (t Task) EffectiveTime() time.Time {
	if t.UpdatedAt.IsZero() {
		return t.CreatedAt
	}
	return t.UpdatedAt
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	out := t
	if t.Tags != nil {
		out.Tags = append([]string(nil), t.Tags...)
	}
	out.CompletedAt = cloneTime(t.CompletedAt)
	out.DeletedAt = cloneTime(t.DeletedAt)
	out.SyncedAt = cloneTime(t.SyncedAt)
	return out
}

// Equal reports whether both records carry the same content. Timestamps are
// compared as instants.
func (t Task) Equal(o Task) bool {
	return t.ID == o.ID &&
		t.Text == o.Text &&
		t.Category == o.Category &&
		t.Status == o.Status &&
		t.Priority == o.Priority &&
		t.Order == o.Order &&
		slices.Equal(t.Tags, o.Tags) &&
		t.CreatedAt.Equal(o.CreatedAt) &&
		t.UpdatedAt.Equal(o.UpdatedAt) &&
		sameTime(t.CompletedAt, o.CompletedAt) &&
		sameTime(t.DeletedAt, o.DeletedAt) &&
		sameTime(t.SyncedAt, o.SyncedAt)
}

// Normalize converts every timestamp to UTC so records coming from different
// stores compare and serialize identically.
func (t *Task) Normalize() {
	if t == nil {
		return
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.CompletedAt = utcPtr(t.CompletedAt)
	t.DeletedAt = utcPtr(t.DeletedAt)
	t.SyncedAt = utcPtr(t.SyncedAt)
	if t.Tags == nil {
		t.Tags = []string{}
	}
}

// Collection is the ordered set of task records for one session.
type Collection []Task

// Less orders by sort key, breaking ties by id.
func Less(a, b Task) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.ID < b.ID
}

// Sort orders the collection in place.
func (c Collection) Sort() {
	sort.SliceStable(c, func(i, j int) bool { return Less(c[i], c[j]) })
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	for i, t := range c {
		out[i] = t.Clone()
	}
	return out
}

// Index returns the position of id or -1.
func (c Collection) Index(id string) int {
	for i := range c {
		if c[i].ID == id {
			return i
		}
	}
	return -1
}

// Find returns a copy of the record with the given id.
func (c Collection) Find(id string) (Task, bool) {
	if i := c.Index(id); i >= 0 {
		return c[i].Clone(), true
	}
	return Task{}, false
}

// MaxOrder returns the highest sort key in the collection, or zero.
func (c Collection) MaxOrder() int64 {
	var max int64
	for _, t := range c {
		if t.Order > max {
			max = t.Order
		}
	}
	return max
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
