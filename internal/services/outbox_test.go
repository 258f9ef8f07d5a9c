package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fastygo/tasksync/domain"
	"github.com/fastygo/tasksync/internal/infrastructure/buffer"
	"github.com/fastygo/tasksync/repository"
)

type fakeRemote struct {
	mu        sync.Mutex
	upserts   [][]string
	deletes   []string
	failWrite error
}

func (f *fakeRemote) FetchAll(context.Context, string) ([]domain.Task, error) { return nil, nil }

func (f *fakeRemote) Upsert(_ context.Context, _ string, task domain.Task) error {
	return f.record([]domain.Task{task})
}

func (f *fakeRemote) UpsertMany(_ context.Context, _ string, tasks []domain.Task) error {
	return f.record(tasks)
}

func (f *fakeRemote) record(tasks []domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return f.failWrite
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	f.upserts = append(f.upserts, ids)
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return f.failWrite
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeRemote) Subscribe(context.Context, string, func([]domain.Task), func(error)) (repository.Subscription, error) {
	return repository.SubscriptionFunc(nil), nil
}

func (f *fakeRemote) setFail(err error) {
	f.mu.Lock()
	f.failWrite = err
	f.mu.Unlock()
}

func (f *fakeRemote) calls() ([][]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.upserts...), append([]string(nil), f.deletes...)
}

type mapSource map[string]domain.Task

func (m mapSource) Get(id string) (domain.Task, bool) {
	t, ok := m[id]
	return t, ok
}

type countingReporter struct {
	mu     sync.Mutex
	pushed int
	errs   []error
}

func (r *countingReporter) Pushed(n int) {
	r.mu.Lock()
	r.pushed += n
	r.mu.Unlock()
}

func (r *countingReporter) PushFailed(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func source() mapSource {
	at := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	return mapSource{
		"a": domain.NewTask("a", "a", domain.CategoryWork, "", at),
		"b": domain.NewTask("b", "b", domain.CategoryWork, "", at),
	}
}

func newOutbox(t *testing.T, remote *fakeRemote, withJournal bool) *Outbox {
	t.Helper()
	var journal *buffer.Store
	if withJournal {
		var err error
		journal, err = buffer.Open(filepath.Join(t.TempDir(), "outbox.db"), "")
		if err != nil {
			t.Fatalf("open journal: %v", err)
		}
		t.Cleanup(func() { journal.Close() })
	}
	o := NewOutbox(remote, source(), journal, nil, nil, OutboxConfig{Debounce: 20 * time.Millisecond, MaxRetries: 2})
	t.Cleanup(func() { o.Stop(context.Background()) })
	return o
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestOutboxCoalescesBurst(t *testing.T) {
	remote := &fakeRemote{}
	o := newOutbox(t, remote, false)
	o.Activate("u1")

	for i := 0; i < 5; i++ {
		o.Enqueue([]string{"a"}, nil)
	}
	o.Enqueue([]string{"b"}, nil)

	waitFor(t, func() bool {
		up, _ := remote.calls()
		return len(up) > 0
	})
	time.Sleep(50 * time.Millisecond)
	up, _ := remote.calls()
	if len(up) != 1 || len(up[0]) != 2 {
		t.Fatalf("expected one batched push of two records, got %v", up)
	}
}

func TestOutboxLastWriteWinsPerRecord(t *testing.T) {
	remote := &fakeRemote{}
	o := newOutbox(t, remote, false)
	o.Activate("u1")

	o.Enqueue([]string{"a"}, nil)
	o.Enqueue(nil, []string{"a"})
	if err := o.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	up, del := remote.calls()
	if len(up) != 0 || len(del) != 1 || del[0] != "a" {
		t.Fatalf("expected a single delete, got upserts=%v deletes=%v", up, del)
	}
}

func TestOutboxDropsWhileInactive(t *testing.T) {
	remote := &fakeRemote{}
	o := newOutbox(t, remote, false)
	o.Enqueue([]string{"a"}, nil)
	if o.Pending() != 0 {
		t.Fatal("inactive outbox must drop changes")
	}
	if err := o.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if up, _ := remote.calls(); len(up) != 0 {
		t.Fatalf("unexpected push %v", up)
	}
}

func TestOutboxJournalsFailuresAndDrains(t *testing.T) {
	remote := &fakeRemote{}
	o := newOutbox(t, remote, true)
	reporter := &countingReporter{}
	o.SetReporter(reporter)
	o.Activate("u1")
	o.flushes.Wait()

	remote.setFail(errors.New("offline"))
	o.Enqueue([]string{"a", "b"}, nil)
	if err := o.Flush(context.Background()); err == nil {
		t.Fatal("expected push error")
	}
	if o.Pending() != 2 {
		t.Fatalf("expected 2 journaled items, got %d", o.Pending())
	}

	remote.setFail(nil)
	if err := o.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if o.Pending() != 0 {
		t.Fatalf("expected empty journal, got %d", o.Pending())
	}
	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	if len(reporter.errs) != 1 || reporter.pushed != 2 {
		t.Fatalf("unexpected reports pushed=%d errs=%v", reporter.pushed, reporter.errs)
	}
}

func TestOutboxDropsAfterMaxRetries(t *testing.T) {
	remote := &fakeRemote{}
	o := newOutbox(t, remote, true)
	o.Activate("u1")
	o.flushes.Wait()

	remote.setFail(errors.New("rejected"))
	o.Enqueue(nil, []string{"gone"})
	_ = o.Flush(context.Background())

	_ = o.Drain(context.Background()) // retries=1
	if o.Pending() != 1 {
		t.Fatalf("expected item kept after first retry, got %d", o.Pending())
	}
	_ = o.Drain(context.Background()) // reaches max
	if o.Pending() != 0 {
		t.Fatalf("expected item dropped, got %d", o.Pending())
	}
}

func TestOutboxDeactivateJournalsPending(t *testing.T) {
	remote := &fakeRemote{}
	o := newOutbox(t, remote, true)
	o.Activate("u1")
	o.flushes.Wait()

	o.Enqueue([]string{"a"}, nil)
	o.Deactivate()
	if o.Active() != "" {
		t.Fatal("expected inactive")
	}
	if up, _ := remote.calls(); len(up) != 0 {
		t.Fatalf("deactivated outbox must not push, got %v", up)
	}

	o.Activate("u1")
	o.flushes.Wait()
	waitFor(t, func() bool {
		up, _ := remote.calls()
		return len(up) == 1 && up[0][0] == "a"
	})
}

func TestOutboxPruneDropsExpiredEntries(t *testing.T) {
	remote := &fakeRemote{}
	o := newOutbox(t, remote, true)
	o.cfg.Retention = time.Hour
	o.Activate("u1")
	o.flushes.Wait()

	remote.setFail(errors.New("offline"))
	o.Enqueue([]string{"a"}, nil)
	_ = o.Flush(context.Background())
	if o.Pending() != 1 {
		t.Fatalf("expected 1 journaled item, got %d", o.Pending())
	}

	if n := o.Prune(time.Now()); n != 0 {
		t.Fatalf("fresh entry pruned")
	}
	if n := o.Prune(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("expected 1 expired entry, got %d", n)
	}
	if o.Pending() != 0 {
		t.Fatalf("expected empty journal, got %d", o.Pending())
	}
}

func waitGroupDone(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pending flushes never finished")
	}
}

func TestOutboxStopWaitsForArmedDebounce(t *testing.T) {
	remote := &fakeRemote{}
	o := newOutbox(t, remote, false)
	o.Activate("u1")

	o.Enqueue([]string{"a"}, nil)
	waitGroupDone(t, &o.flushes)
	if up, _ := remote.calls(); len(up) != 1 || up[0][0] != "a" {
		t.Fatalf("wait returned before the debounced push, got %v", up)
	}
}

func TestOutboxRearmAndFlushReleaseFlushes(t *testing.T) {
	remote := &fakeRemote{}
	o := newOutbox(t, remote, false)
	o.Activate("u1")

	for i := 0; i < 10; i++ {
		o.Enqueue([]string{"a"}, nil)
	}
	o.Enqueue([]string{"b"}, nil)
	if err := o.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	waitGroupDone(t, &o.flushes)

	o.Enqueue([]string{"a"}, nil)
	o.Deactivate()
	waitGroupDone(t, &o.flushes)

	if up, _ := remote.calls(); len(up) != 1 || len(up[0]) != 2 {
		t.Fatalf("expected one explicit flush of two records, got %v", up)
	}
}
