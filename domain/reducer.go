package domain

import "time"

// Action is a state transition request applied by Apply.
// Every action carries the instant it happened so Apply never reads a clock.
type Action interface {
	actionName() string
}

// Patch lists the user-editable fields of a task; nil fields are left unchanged.
type Patch struct {
	Text     *string   `json:"text,omitempty"`
	Category *Category `json:"category,omitempty"`
	Priority *Priority `json:"priority,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
}

type CreateTask struct {
	ID       string
	Text     string
	Category Category
	Priority Priority
	At       time.Time
}

type UpdateTask struct {
	ID    string
	Patch Patch
	At    time.Time
}

type CompleteTask struct {
	ID string
	At time.Time
}

type UncompleteTask struct {
	ID string
	At time.Time
}

type SoftDeleteTask struct {
	ID string
	At time.Time
}

type RestoreTask struct {
	ID string
	At time.Time
}

type ReorderTasks struct {
	Category Category
	Status   Status
	From     int
	To       int
	At       time.Time
}

type ClearCompleted struct{}

// ReplaceAll swaps the whole collection, used when adopting a remote snapshot or a merge result.
type ReplaceAll struct {
	Tasks Collection
}

// MergeRemote reconciles the current collection with a fetched remote one.
type MergeRemote struct {
	Remote Collection
}

func (CreateTask) actionName() string     { return "create" }
func (UpdateTask) actionName() string     { return "update" }
func (CompleteTask) actionName() string   { return "complete" }
func (UncompleteTask) actionName() string { return "uncomplete" }
func (SoftDeleteTask) actionName() string { return "delete" }
func (RestoreTask) actionName() string    { return "restore" }
func (ReorderTasks) actionName() string   { return "reorder" }
func (ClearCompleted) actionName() string { return "clear_completed" }
func (ReplaceAll) actionName() string     { return "replace" }
func (MergeRemote) actionName() string    { return "merge" }

// ActionName returns a short stable name for logging.
func ActionName(a Action) string {
	if a == nil {
		return ""
	}
	return a.actionName()
}

// NewTask builds a fresh active record from user input.
func NewTask(id, text string, category Category, priority Priority, at time.Time) Task {
	if priority == "" {
		priority = PriorityMedium
	}
	at = at.UTC()
	return Task{
		ID:        id,
		Text:      SanitizeText(text),
		Category:  category,
		Status:    StatusActive,
		Priority:  priority,
		Order:     at.UnixMilli(),
		Tags:      []string{},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Apply reduces an action against the current collection and returns the next collection.
// The input is never modified. On error the returned collection is the input.
func Apply(c Collection, a Action) (Collection, error) {
	switch act := a.(type) {
	case CreateTask:
		task := NewTask(act.ID, act.Text, act.Category, act.Priority, act.At)
		if err := Validate(task).Err(); err != nil {
			return c, err
		}
		if c.Index(task.ID) >= 0 {
			return c, NewError(ErrCodeConflict, "task id already exists")
		}
		out := c.Clone()
		return append(out, task), nil

	case UpdateTask:
		return mutate(c, act.ID, func(t *Task) bool {
			if act.Patch.Text != nil {
				t.Text = SanitizeText(*act.Patch.Text)
			}
			if act.Patch.Category != nil {
				t.Category = *act.Patch.Category
			}
			if act.Patch.Priority != nil {
				t.Priority = *act.Patch.Priority
			}
			if act.Patch.Tags != nil {
				t.Tags = append([]string{}, act.Patch.Tags...)
			}
			t.UpdatedAt = act.At.UTC()
			return true
		}), nil

	case CompleteTask:
		return mutate(c, act.ID, func(t *Task) bool {
			if t.Status != StatusActive {
				return false
			}
			at := act.At.UTC()
			t.Status = StatusCompleted
			t.CompletedAt = &at
			t.UpdatedAt = at
			return true
		}), nil

	case UncompleteTask:
		return mutate(c, act.ID, func(t *Task) bool {
			if t.Status != StatusCompleted {
				return false
			}
			t.Status = StatusActive
			t.CompletedAt = nil
			t.UpdatedAt = act.At.UTC()
			return true
		}), nil

	case SoftDeleteTask:
		return mutate(c, act.ID, func(t *Task) bool {
			if t.Status == StatusDeleted {
				return false
			}
			at := act.At.UTC()
			t.Status = StatusDeleted
			t.DeletedAt = &at
			t.UpdatedAt = at
			return true
		}), nil

	case RestoreTask:
		return mutate(c, act.ID, func(t *Task) bool {
			if t.Status != StatusDeleted {
				return false
			}
			t.Status = StatusActive
			t.DeletedAt = nil
			t.CompletedAt = nil
			t.UpdatedAt = act.At.UTC()
			return true
		}), nil

	case ReorderTasks:
		at := act.At.UTC()
		out, err := Reorder(c, act.Category, act.Status, act.From, act.To, at.UnixMilli())
		if err != nil {
			return c, err
		}
		for i := range out {
			if out[i].Category == act.Category && out[i].Status == act.Status {
				out[i].UpdatedAt = at
			}
		}
		return out, nil

	case ClearCompleted:
		out := make(Collection, 0, len(c))
		for _, t := range c {
			if t.Status == StatusCompleted {
				continue
			}
			out = append(out, t.Clone())
		}
		return out, nil

	case ReplaceAll:
		out := act.Tasks.Clone()
		if out == nil {
			out = Collection{}
		}
		for i := range out {
			out[i].Normalize()
		}
		out.Sort()
		return out, nil

	case MergeRemote:
		out := Merge(c, act.Remote)
		for i := range out {
			out[i].Normalize()
		}
		return out, nil

	default:
		return c, ErrUnknownAction
	}
}

// mutate applies fn to a copy of the record with the given id. A missing id or
// an fn returning false leaves the collection as it was.
func mutate(c Collection, id string, fn func(t *Task) bool) Collection {
	i := c.Index(id)
	if i < 0 {
		return c
	}
	task := c[i].Clone()
	if !fn(&task) {
		return c
	}
	out := c.Clone()
	out[i] = task
	return out
}

// Changes describes which records differ between two collections.
type Changes struct {
	Upserted []string
	Removed  []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Upserted) == 0 && len(c.Removed) == 0
}

// Diff compares two collections by id and record content.
func Diff(before, after Collection) Changes {
	prev := make(map[string]Task, len(before))
	for _, t := range before {
		prev[t.ID] = t
	}
	var ch Changes
	seen := make(map[string]struct{}, len(after))
	for _, t := range after {
		seen[t.ID] = struct{}{}
		old, ok := prev[t.ID]
		if !ok || !old.Equal(t) {
			ch.Upserted = append(ch.Upserted, t.ID)
		}
	}
	for _, t := range before {
		if _, ok := seen[t.ID]; !ok {
			ch.Removed = append(ch.Removed, t.ID)
		}
	}
	return ch
}
