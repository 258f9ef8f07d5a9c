package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fastygo/tasksync/domain"
	"github.com/fastygo/tasksync/internal/services"
	"github.com/fastygo/tasksync/internal/telemetry"
	"github.com/fastygo/tasksync/repository"
	"github.com/fastygo/tasksync/repository/memory"
	"github.com/fastygo/tasksync/usecase/task"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func rec(id, text string, order int64, updated time.Time) domain.Task {
	return domain.Task{
		ID:        id,
		Text:      text,
		Category:  domain.CategoryWork,
		Status:    domain.StatusActive,
		Priority:  domain.PriorityMedium,
		Order:     order,
		Tags:      []string{},
		CreatedAt: epoch,
		UpdatedAt: updated,
	}
}

type fakeRemote struct {
	mu         sync.Mutex
	records    []domain.Task
	fetchErr   error
	pushErr    error
	pushed     [][]domain.Task
	onSnapshot func([]domain.Task)
	subs       int
	unsubs     int
}

func (f *fakeRemote) FetchAll(ctx context.Context, userID string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]domain.Task(nil), f.records...), nil
}

func (f *fakeRemote) Upsert(ctx context.Context, userID string, t domain.Task) error {
	return f.UpsertMany(ctx, userID, []domain.Task{t})
}

func (f *fakeRemote) UpsertMany(ctx context.Context, userID string, tasks []domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, append([]domain.Task(nil), tasks...))
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, userID, taskID string) error { return nil }

func (f *fakeRemote) Subscribe(ctx context.Context, userID string, onSnapshot func([]domain.Task), onError func(error)) (repository.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs++
	f.onSnapshot = onSnapshot
	return repository.SubscriptionFunc(func() error {
		f.mu.Lock()
		f.unsubs++
		f.mu.Unlock()
		return nil
	}), nil
}

func (f *fakeRemote) setFetchErr(err error) {
	f.mu.Lock()
	f.fetchErr = err
	f.mu.Unlock()
}

func (f *fakeRemote) pushes() [][]domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]domain.Task(nil), f.pushed...)
}

func (f *fakeRemote) snapshotFn() func([]domain.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onSnapshot
}

type fakeIdentity struct {
	mu        sync.Mutex
	user      string
	listeners []func(string)
}

func (f *fakeIdentity) CurrentUser() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

func (f *fakeIdentity) OnAuthChange(fn func(string)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeIdentity) set(user string) {
	f.mu.Lock()
	f.user = user
	ls := append(([]func(string))(nil), f.listeners...)
	f.mu.Unlock()
	for _, fn := range ls {
		fn(user)
	}
}

type fakeConn struct {
	mu        sync.Mutex
	online    bool
	listeners []func(bool)
}

func (f *fakeConn) IsOnline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeConn) OnChange(fn func(bool)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeConn) set(online bool) {
	f.mu.Lock()
	f.online = online
	ls := append(([]func(bool))(nil), f.listeners...)
	f.mu.Unlock()
	for _, fn := range ls {
		fn(online)
	}
}

type fakeOutbound struct {
	mu          sync.Mutex
	active      string
	activations int
}

func (f *fakeOutbound) Activate(userID string) {
	f.mu.Lock()
	f.active = userID
	f.activations++
	f.mu.Unlock()
}

func (f *fakeOutbound) Deactivate() {
	f.mu.Lock()
	f.active = ""
	f.mu.Unlock()
}

func (f *fakeOutbound) Pending() int { return 0 }

func (f *fakeOutbound) current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type harness struct {
	orch     *Orchestrator
	store    *task.Store
	remote   *fakeRemote
	identity *fakeIdentity
	conn     *fakeConn
	outbound *fakeOutbound
	spans    *tracetest.SpanRecorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWith(t, cfg, nil)
}

// newHarnessWith lets a test replace the store or outbound seen by the
// orchestrator before it starts.
func newHarnessWith(t *testing.T, cfg Config, override func(h *harness, d *Deps)) *harness {
	t.Helper()
	h := &harness{
		store:    task.NewStore(task.Options{Cache: memory.New()}),
		remote:   &fakeRemote{},
		identity: &fakeIdentity{},
		conn:     &fakeConn{online: true},
		outbound: &fakeOutbound{},
		spans:    tracetest.NewSpanRecorder(),
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	deps := Deps{
		Store:     h.store,
		Remote:    h.remote,
		Identity:  h.identity,
		Conn:      h.conn,
		Outbound:  h.outbound,
		Telemetry: telemetry.New(tp, noopmetric.NewMeterProvider()),
		Now:       func() time.Time { return epoch.Add(48 * time.Hour) },
	}
	if override != nil {
		override(h, &deps)
	}
	h.orch = New(deps, cfg)
	h.orch.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.orch.Stop(ctx)
		_ = h.store.Close()
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDisabledWithoutRemote(t *testing.T) {
	o := New(Deps{Store: task.NewStore(task.Options{})}, Config{})
	o.Start(context.Background())
	defer o.Stop(context.Background())

	if o.State() != StateDisabled {
		t.Fatalf("expected disabled, got %s", o.State())
	}
	if err := o.Resync(context.Background()); !errors.Is(err, domain.ErrSyncDisabled) {
		t.Fatalf("expected ErrSyncDisabled, got %v", err)
	}
}

func TestSignInMergesAndPushes(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.Replace([]domain.Task{rec("1", "local", 10, epoch.Add(24*time.Hour))})
	h.remote.records = []domain.Task{
		rec("1", "remote", 10, epoch),
		rec("2", "remote-2", 20, epoch),
	}

	if h.orch.State() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", h.orch.State())
	}
	h.identity.set("u1")

	waitFor(t, "synced", func() bool { return h.orch.State() == StateSynced })
	got := h.store.Snapshot()
	if len(got) != 2 || got[0].Text != "local" || got[1].Text != "remote-2" {
		t.Fatalf("unexpected merged collection: %#v", got)
	}
	waitFor(t, "repair push", func() bool { return len(h.remote.pushes()) == 1 })
	if pushed := h.remote.pushes()[0]; len(pushed) != 2 {
		t.Fatalf("expected the merged collection to be pushed, got %d records", len(pushed))
	}
	if h.outbound.current() != "u1" {
		t.Fatalf("outbox not activated for u1")
	}

	st := h.orch.Status()
	if st.UserID != "u1" || !st.Online || st.LastSyncedAt == nil || st.LastError != nil {
		t.Fatalf("unexpected status %#v", st)
	}

	ended := func() map[string]bool {
		names := map[string]bool{}
		for _, s := range h.spans.Ended() {
			names[s.Name()] = true
		}
		return names
	}
	waitFor(t, "push span", func() bool { return ended()["sync.push"] })
	for _, want := range []string{"sync.fetch", "sync.merge"} {
		if !ended()[want] {
			t.Fatalf("missing span %s", want)
		}
	}
}

func TestSnapshotsReplaceStoreOnceSynced(t *testing.T) {
	h := newHarness(t, Config{})
	h.identity.set("u1")
	waitFor(t, "synced", func() bool { return h.orch.State() == StateSynced })

	h.remote.snapshotFn()([]domain.Task{rec("9", "from elsewhere", 1, epoch)})
	got := h.store.Snapshot()
	if len(got) != 1 || got[0].ID != "9" {
		t.Fatalf("snapshot not adopted: %#v", got)
	}
}

func TestFetchFailureIsStickyUntilAcknowledged(t *testing.T) {
	h := newHarness(t, Config{RetryDelay: 20 * time.Millisecond})
	h.remote.setFetchErr(errors.New("timeout"))
	h.identity.set("u1")

	waitFor(t, "fetch error", func() bool { return h.orch.LastError() != nil })
	if err := h.orch.LastError(); err.Kind != KindFetch {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if h.orch.State() != StateSyncing {
		t.Fatalf("expected to stay syncing, got %s", h.orch.State())
	}

	h.remote.setFetchErr(nil)
	waitFor(t, "retry to succeed", func() bool { return h.orch.State() == StateSynced })
	if h.orch.LastError() == nil {
		t.Fatal("error should stay until acknowledged")
	}
	h.orch.AcknowledgeError()
	if h.orch.LastError() != nil {
		t.Fatal("acknowledge did not clear the error")
	}
}

func TestSignOutAndConnectivityLossKeepLocalData(t *testing.T) {
	h := newHarness(t, Config{})
	h.remote.records = []domain.Task{rec("1", "remote", 1, epoch)}
	h.identity.set("u1")
	waitFor(t, "synced", func() bool { return h.orch.State() == StateSynced })

	h.conn.set(false)
	waitFor(t, "offline teardown", func() bool { return h.orch.State() == StateUnauthenticated })
	if h.outbound.current() != "" {
		t.Fatal("outbox still active while offline")
	}
	if len(h.store.Snapshot()) != 1 {
		t.Fatal("local data dropped on teardown")
	}

	h.conn.set(true)
	waitFor(t, "resync after reconnect", func() bool { return h.orch.State() == StateSynced })

	h.identity.set("")
	waitFor(t, "sign out", func() bool { return h.orch.State() == StateUnauthenticated })
	if len(h.store.Snapshot()) != 1 {
		t.Fatal("local data dropped on sign out")
	}
	h.remote.mu.Lock()
	subs, unsubs := h.remote.subs, h.remote.unsubs
	h.remote.mu.Unlock()
	if subs != 2 || unsubs != 2 {
		t.Fatalf("expected 2 subscriptions both cancelled, got %d/%d", subs, unsubs)
	}
}

func TestResync(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.orch.Resync(context.Background()); !errors.Is(err, domain.ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}

	h.identity.set("u1")
	waitFor(t, "synced", func() bool { return h.orch.State() == StateSynced })
	waitFor(t, "repair push", func() bool { return len(h.remote.pushes()) == 1 })
	h.store.Replace([]domain.Task{rec("5", "five", 1, epoch)})

	if err := h.orch.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}
	pushes := h.remote.pushes()
	if last := pushes[len(pushes)-1]; len(last) != 1 || last[0].ID != "5" {
		t.Fatalf("unexpected resync payload %#v", last)
	}

	h.remote.mu.Lock()
	h.remote.pushErr = errors.New("denied")
	h.remote.mu.Unlock()
	if err := h.orch.Resync(context.Background()); err == nil {
		t.Fatal("expected resync failure")
	}
	if e := h.orch.LastError(); e == nil || e.Kind != KindPush {
		t.Fatalf("expected push error, got %v", e)
	}
}

// hookedStore runs a callback once, right after the named store call.
type hookedStore struct {
	*task.Store
	once    sync.Once
	after   string
	trigger func()
}

func (s *hookedStore) fire(call string) {
	if call == s.after {
		s.once.Do(s.trigger)
	}
}

func (s *hookedStore) Snapshot() domain.Collection {
	out := s.Store.Snapshot()
	s.fire("snapshot")
	return out
}

func (s *hookedStore) MergeRemote(remote []domain.Task) domain.Collection {
	out := s.Store.MergeRemote(remote)
	s.fire("merge")
	return out
}

func hasTask(c domain.Collection, id string) bool {
	for _, t := range c {
		if t.ID == id {
			return true
		}
	}
	return false
}

func TestLocalEditDuringInitialSyncSurvives(t *testing.T) {
	created := make(chan string, 1)
	h := newHarnessWith(t, Config{}, func(h *harness, d *Deps) {
		hooked := &hookedStore{Store: h.store, after: "snapshot"}
		hooked.trigger = func() {
			added, err := h.store.Create("typed while syncing", domain.CategoryWork, "")
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			created <- added.ID
		}
		d.Store = hooked
	})
	h.remote.records = []domain.Task{rec("r1", "remote", 1, epoch)}
	h.identity.set("u1")

	waitFor(t, "synced", func() bool { return h.orch.State() == StateSynced })
	var id string
	select {
	case id = <-created:
	case <-time.After(2 * time.Second):
		t.Fatal("no local edit made during sync")
	}
	got := h.store.Snapshot()
	if !hasTask(got, "r1") || !hasTask(got, id) {
		t.Fatalf("expected remote and local records, got %#v", got)
	}
}

func TestConcurrentEditsDuringSignInAreKept(t *testing.T) {
	h := newHarness(t, Config{})
	h.remote.records = []domain.Task{rec("r1", "remote", 1, epoch)}

	const edits = 50
	ids := make(chan string, edits)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < edits; i++ {
			created, err := h.store.Create("edit", domain.CategoryWork, "")
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids <- created.ID
		}
	}()
	h.identity.set("u1")
	wg.Wait()
	close(ids)

	waitFor(t, "synced", func() bool { return h.orch.State() == StateSynced })
	got := h.store.Snapshot()
	if !hasTask(got, "r1") {
		t.Fatal("remote record not merged")
	}
	for id := range ids {
		if !hasTask(got, id) {
			t.Fatalf("local record %s lost during sign-in", id)
		}
	}
}

func TestEditRightAfterMergeIsPushed(t *testing.T) {
	var created string
	var mu sync.Mutex
	h := newHarnessWith(t, Config{}, func(h *harness, d *Deps) {
		outbox := services.NewOutbox(h.remote, h.store, nil, nil, nil, services.OutboxConfig{Debounce: 10 * time.Millisecond})
		h.store.SetSink(outbox)
		t.Cleanup(func() { outbox.Stop(context.Background()) })
		d.Outbound = outbox

		hooked := &hookedStore{Store: h.store, after: "merge"}
		hooked.trigger = func() {
			added, err := h.store.Create("typed after merge", domain.CategoryWork, "")
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			mu.Lock()
			created = added.ID
			mu.Unlock()
		}
		d.Store = hooked
	})
	h.remote.records = []domain.Task{rec("r1", "remote", 1, epoch)}
	h.identity.set("u1")

	waitFor(t, "synced", func() bool { return h.orch.State() == StateSynced })
	waitFor(t, "edit pushed", func() bool {
		mu.Lock()
		id := created
		mu.Unlock()
		if id == "" {
			return false
		}
		for _, batch := range h.remote.pushes() {
			if hasTask(batch, id) {
				return true
			}
		}
		return false
	})
}
