package domain

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

func mustApply(t *testing.T, c Collection, a Action) Collection {
	t.Helper()
	out, err := Apply(c, a)
	if err != nil {
		t.Fatalf("apply %s: %v", ActionName(a), err)
	}
	return out
}

func TestCreateCompleteClearScenario(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "t1", Text: "Buy milk", Category: CategoryWork, At: t0})
	if len(c) != 1 {
		t.Fatalf("expected 1 task, got %d", len(c))
	}
	if c[0].Status != StatusActive || c[0].Order <= 0 || c[0].Priority != PriorityMedium {
		t.Fatalf("unexpected created task: %#v", c[0])
	}
	if res := Validate(c[0]); !res.Valid {
		t.Fatalf("created task failed validation: %v", res.Errors)
	}

	c = mustApply(t, c, CompleteTask{ID: "t1", At: t0.Add(time.Minute)})
	if c[0].Status != StatusCompleted || c[0].CompletedAt == nil {
		t.Fatalf("expected completed task with completedAt: %#v", c[0])
	}

	c = mustApply(t, c, ClearCompleted{})
	if len(c) != 0 {
		t.Fatalf("expected empty collection, got %d", len(c))
	}
}

func TestCreateSanitizesText(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "t1", Text: "  <b>bold</b>  ", Category: CategoryStudy, Priority: PriorityHigh, At: t0})
	if c[0].Text != "bbold/b" {
		t.Fatalf("unexpected sanitized text %q", c[0].Text)
	}

	long := strings.Repeat("x", 600)
	c = mustApply(t, nil, CreateTask{ID: "t2", Text: long, Category: CategoryStudy, At: t0})
	if len(c[0].Text) != MaxTextLength {
		t.Fatalf("expected truncation to %d, got %d", MaxTextLength, len(c[0].Text))
	}
}

func TestCreateRejectsInvalidAndKeepsCollection(t *testing.T) {
	base := mustApply(t, nil, CreateTask{ID: "t1", Text: "keep", Category: CategoryWork, At: t0})

	out, err := Apply(base, CreateTask{ID: "", Text: "  <> ", Category: "garden", Priority: "urgent", At: t0})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(vErr.Reasons) != 4 {
		t.Fatalf("expected 4 reasons (id, text, category, priority), got %v", vErr.Reasons)
	}
	if !IsDomainError(err, ErrCodeInvalid) {
		t.Fatalf("validation error should classify as invalid")
	}
	if !reflect.DeepEqual(out, base) {
		t.Fatalf("collection changed on failed create")
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "t1", Text: "a", Category: CategoryWork, At: t0})
	if _, err := Apply(c, CreateTask{ID: "t1", Text: "b", Category: CategoryWork, At: t0}); !IsDomainError(err, ErrCodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCompleteUncompleteRoundTrip(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "t1", Text: "task", Category: CategoryPrivate, At: t0})
	before := c[0]

	c = mustApply(t, c, CompleteTask{ID: "t1", At: t0.Add(time.Second)})
	c = mustApply(t, c, UncompleteTask{ID: "t1", At: t0.Add(2 * time.Second)})

	after := c[0]
	if !after.UpdatedAt.Equal(t0.Add(2 * time.Second)) {
		t.Fatalf("expected updatedAt stamped, got %v", after.UpdatedAt)
	}
	after.UpdatedAt = before.UpdatedAt
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("round trip changed fields:\nbefore %#v\nafter  %#v", before, after)
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "t1", Text: "task", Category: CategoryWork, At: t0})
	c = mustApply(t, c, CompleteTask{ID: "t1", At: t0})
	c = mustApply(t, c, SoftDeleteTask{ID: "t1", At: t0.Add(time.Second)})
	if c[0].Status != StatusDeleted || c[0].DeletedAt == nil {
		t.Fatalf("expected soft deleted: %#v", c[0])
	}

	cleared := mustApply(t, c, ClearCompleted{})
	if len(cleared) != 1 {
		t.Fatalf("clear completed must keep deleted records")
	}

	c = mustApply(t, c, RestoreTask{ID: "t1", At: t0.Add(2 * time.Second)})
	if c[0].Status != StatusActive || c[0].DeletedAt != nil || c[0].CompletedAt != nil {
		t.Fatalf("restore should yield a clean active record: %#v", c[0])
	}
}

func TestIllegalTransitionsAreNoOps(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "t1", Text: "task", Category: CategoryWork, At: t0})
	c = mustApply(t, c, SoftDeleteTask{ID: "t1", At: t0})

	for _, a := range []Action{
		CompleteTask{ID: "t1", At: t0.Add(time.Hour)},
		UncompleteTask{ID: "t1", At: t0.Add(time.Hour)},
		SoftDeleteTask{ID: "t1", At: t0.Add(time.Hour)},
	} {
		out := mustApply(t, c, a)
		if !reflect.DeepEqual(out, c) {
			t.Fatalf("%s on deleted task changed the collection", ActionName(a))
		}
	}
}

func TestMissingIDIsNoOp(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "t1", Text: "task", Category: CategoryWork, At: t0})
	text := "new"
	for _, a := range []Action{
		UpdateTask{ID: "nope", Patch: Patch{Text: &text}, At: t0},
		CompleteTask{ID: "nope", At: t0},
		UncompleteTask{ID: "nope", At: t0},
		SoftDeleteTask{ID: "nope", At: t0},
		RestoreTask{ID: "nope", At: t0},
	} {
		out, err := Apply(c, a)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", ActionName(a), err)
		}
		if !reflect.DeepEqual(out, c) {
			t.Fatalf("%s with missing id changed the collection", ActionName(a))
		}
	}
}

func TestUpdateMergesPatch(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "t1", Text: "task", Category: CategoryWork, At: t0})
	text := "renamed"
	prio := PriorityLow
	c = mustApply(t, c, UpdateTask{ID: "t1", Patch: Patch{Text: &text, Priority: &prio, Tags: []string{"home"}}, At: t0.Add(time.Minute)})

	got := c[0]
	if got.Text != "renamed" || got.Priority != PriorityLow || got.Category != CategoryWork || len(got.Tags) != 1 {
		t.Fatalf("unexpected patched task: %#v", got)
	}
	if !got.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("updatedAt not stamped")
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "t1", Text: "task", Category: CategoryWork, At: t0})
	snapshot := c.Clone()
	mustApply(t, c, CompleteTask{ID: "t1", At: t0.Add(time.Second)})
	if !reflect.DeepEqual(c, snapshot) {
		t.Fatalf("input collection was mutated")
	}
}

func TestDiff(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "a", Text: "a", Category: CategoryWork, At: t0})
	c = mustApply(t, c, CreateTask{ID: "b", Text: "b", Category: CategoryWork, At: t0.Add(time.Millisecond)})
	c = mustApply(t, c, CompleteTask{ID: "a", At: t0.Add(time.Second)})

	next := mustApply(t, c, ClearCompleted{})
	ch := Diff(c, next)
	if len(ch.Upserted) != 0 || len(ch.Removed) != 1 || ch.Removed[0] != "a" {
		t.Fatalf("unexpected changes: %#v", ch)
	}

	next = mustApply(t, c, UncompleteTask{ID: "a", At: t0.Add(2 * time.Second)})
	ch = Diff(c, next)
	if len(ch.Upserted) != 1 || ch.Upserted[0] != "a" || len(ch.Removed) != 0 {
		t.Fatalf("unexpected changes: %#v", ch)
	}
}

func TestDiffDetectsContentChangeWithSameStamp(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "a", Text: "a", Category: CategoryWork, At: t0})
	text := "renamed"
	next := mustApply(t, c, UpdateTask{ID: "a", Patch: Patch{Text: &text}, At: t0})
	if !next[0].UpdatedAt.Equal(c[0].UpdatedAt) {
		t.Fatalf("expected unchanged updatedAt")
	}
	ch := Diff(c, next)
	if len(ch.Upserted) != 1 || ch.Upserted[0] != "a" {
		t.Fatalf("text edit with equal stamp not reported: %#v", ch)
	}
	if ch := Diff(next, next.Clone()); len(ch.Upserted) != 0 || len(ch.Removed) != 0 {
		t.Fatalf("identical collections reported changes: %#v", ch)
	}
}

func TestMergeRemoteAction(t *testing.T) {
	c := mustApply(t, nil, CreateTask{ID: "local", Text: "local", Category: CategoryWork, At: t0})
	remote := Collection{NewTask("remote", "remote", CategoryPrivate, PriorityLow, t0.Add(time.Second))}
	remote[0].Order = c[0].Order + 1

	out := mustApply(t, c, MergeRemote{Remote: remote})
	if len(out) != 2 || out[0].ID != "local" || out[1].ID != "remote" {
		t.Fatalf("unexpected merged collection: %#v", out)
	}
	if ActionName(MergeRemote{}) != "merge" {
		t.Fatalf("unexpected action name %q", ActionName(MergeRemote{}))
	}
	ch := Diff(c, out)
	if len(ch.Upserted) != 1 || ch.Upserted[0] != "remote" {
		t.Fatalf("unexpected changes: %#v", ch)
	}
}
