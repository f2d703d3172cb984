package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tradewatch/alertd/internal/model"
)

// fakeStore is an in-memory Store for engine and cache tests.
type fakeStore struct {
	mu      sync.Mutex
	alerts  []*model.Alert
	updates []Update
	loads   int
}

func (f *fakeStore) LoadActive(ctx context.Context) ([]*model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++

	out := make([]*model.Alert, 0, len(f.alerts))
	for _, a := range f.alerts {
		copied := *a
		if a.User != nil {
			user := *a.User
			copied.User = &user
		}
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeStore) BulkUpdate(ctx context.Context, updates []Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates...)
	return nil
}

func (f *fakeStore) DistinctInstruments(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var keys []string
	for _, a := range f.alerts {
		if !seen[a.InstrumentKey] {
			seen[a.InstrumentKey] = true
			keys = append(keys, a.InstrumentKey)
		}
	}
	return keys, nil
}

func (f *fakeStore) CountActive(ctx context.Context, key string) (int64, error) {
	var n int64
	for _, a := range f.alerts {
		if a.InstrumentKey == key && !a.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DisableTelegram(ctx context.Context, userID int64) error { return nil }

func (f *fakeStore) AccessToken(ctx context.Context) (string, error) { return "token", nil }

type notifyCall struct {
	alertID  int64
	status   model.Status
	priority int
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (f *fakeNotifier) NotifyTransition(ctx context.Context, a *model.Alert, price float64, priority int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{alertID: a.ID, status: a.Status, priority: priority})
}

type fakeLive struct {
	mu        sync.Mutex
	updates   []StatusUpdate
	triggered []string
}

func (f *fakeLive) EmitStatusUpdate(userID int64, ev StatusUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, ev)
}

func (f *fakeLive) EmitAlertTriggered(userID int64, sym string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, sym)
}

func longAlert(id int64, entry, sl, target float64) *model.Alert {
	return &model.Alert{
		ID:            id,
		UserID:        7,
		InstrumentKey: "NSE_EQ|INE062A01020",
		TradingSymbol: "ACC",
		Position:      model.Long,
		EntryPrice:    entry,
		StopLoss:      sl,
		TargetPrice:   target,
		Status:        model.StatusPending,
		User:          &model.User{ID: 7, Email: "u@example.com"},
	}
}

func shortAlert(id int64, entry, sl, target float64) *model.Alert {
	a := longAlert(id, entry, sl, target)
	a.Position = model.Short
	return a
}

// newTestEngine wires an engine over a fakeStore with the cache already
// refreshed.
func newTestEngine(t *testing.T, store *fakeStore) (*Engine, *Cache, *fakeNotifier, *fakeLive) {
	t.Helper()

	cache := NewCache(store, time.Hour, nil)
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	notifier := &fakeNotifier{}
	live := &fakeLive{}
	engine, err := NewEngine(cache, store, notifier, live, 128, time.Second, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine, cache, notifier, live
}

func feed(engine *Engine, key string, prices ...float64) {
	for _, p := range prices {
		engine.Process(context.Background(), key, p)
	}
}

func TestEngine_LongCleanTarget(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{longAlert(1, 100, 95, 110)}}
	engine, cache, notifier, live := newTestEngine(t, store)
	key := "NSE_EQ|INE062A01020"

	feed(engine, key, 98, 101, 109, 110)

	wantStatuses := []model.Status{
		model.StatusEnter, model.StatusRunning, model.StatusRunning, model.StatusTargetHit,
	}
	if len(store.updates) != len(wantStatuses) {
		t.Fatalf("got %d updates, want %d", len(store.updates), len(wantStatuses))
	}
	for i, want := range wantStatuses {
		if store.updates[i].Status != want {
			t.Errorf("update %d: status = %v, want %v", i, store.updates[i].Status, want)
		}
	}

	if len(notifier.calls) != 2 {
		t.Fatalf("got %d notifications, want 2", len(notifier.calls))
	}
	if notifier.calls[0].status != model.StatusEnter || notifier.calls[0].priority != PriorityEnter {
		t.Errorf("first notification = %+v, want enter at priority 2", notifier.calls[0])
	}
	if notifier.calls[1].status != model.StatusTargetHit || notifier.calls[1].priority != PriorityTerminal {
		t.Errorf("second notification = %+v, want targetHit at priority 1", notifier.calls[1])
	}

	if len(live.triggered) != 1 || live.triggered[0] != "ACC" {
		t.Errorf("triggered = %v, want [ACC]", live.triggered)
	}
	if got := cache.Get(key); len(got) != 0 {
		t.Errorf("terminal alert still cached: %d entries", len(got))
	}
}

func TestEngine_LongStopLossWithoutEntry(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{longAlert(1, 100, 95, 110)}}
	engine, _, notifier, _ := newTestEngine(t, store)
	key := "NSE_EQ|INE062A01020"

	feed(engine, key, 101, 102, 94)

	last := store.updates[len(store.updates)-1]
	if last.Status != model.StatusSLHit {
		t.Errorf("final status = %v, want %v", last.Status, model.StatusSLHit)
	}
	if last.EntryCrossed {
		t.Error("entry_crossed should remain false")
	}

	if len(notifier.calls) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.calls))
	}
	if notifier.calls[0].status != model.StatusSLHit {
		t.Errorf("notification status = %v, want %v", notifier.calls[0].status, model.StatusSLHit)
	}
}

func TestEngine_ShortReversal(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{shortAlert(1, 200, 210, 190)}}
	engine, cache, notifier, _ := newTestEngine(t, store)
	key := "NSE_EQ|INE062A01020"

	feed(engine, key, 205, 199, 196, 205)

	wantStatuses := []model.Status{
		model.StatusEnter, model.StatusRunning, model.StatusRunning, model.StatusRunning,
	}
	if len(store.updates) != len(wantStatuses) {
		t.Fatalf("got %d updates, want %d", len(store.updates), len(wantStatuses))
	}
	for i, want := range wantStatuses {
		if store.updates[i].Status != want {
			t.Errorf("update %d: status = %v, want %v", i, store.updates[i].Status, want)
		}
	}

	if len(notifier.calls) != 1 || notifier.calls[0].status != model.StatusEnter {
		t.Errorf("notifications = %+v, want exactly one enter", notifier.calls)
	}
	if got := cache.Get(key); len(got) != 1 {
		t.Errorf("non-terminal alert evicted: %d entries", len(got))
	}
}

func TestEngine_TargetFirstRace(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{longAlert(1, 100, 95, 110)}}
	engine, cache, notifier, _ := newTestEngine(t, store)
	key := "NSE_EQ|INE062A01020"

	feed(engine, key, 112)

	alerts := cache.Get(key)
	if len(alerts) != 1 {
		t.Fatalf("got %d cached alerts, want 1", len(alerts))
	}
	if alerts[0].Status != model.StatusPending {
		t.Errorf("status = %v, want %v", alerts[0].Status, model.StatusPending)
	}
	if len(notifier.calls) != 0 {
		t.Errorf("got %d notifications, want 0", len(notifier.calls))
	}
}

func TestEngine_StopLossAtBoundary(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{longAlert(1, 100, 95, 110)}}
	engine, cache, _, _ := newTestEngine(t, store)
	key := "NSE_EQ|INE062A01020"

	feed(engine, key, 95)

	if len(store.updates) != 1 || store.updates[0].Status != model.StatusSLHit {
		t.Fatalf("updates = %+v, want one slHit", store.updates)
	}
	if got := cache.Get(key); len(got) != 0 {
		t.Error("terminal alert still cached")
	}
}

func TestEngine_EntryBoundaryWithEntryCrossed(t *testing.T) {
	a := longAlert(1, 100, 95, 110)
	a.Status = model.StatusEnter
	a.EntryCrossed = true
	prev := 98.0
	a.LastLTP = &prev

	store := &fakeStore{alerts: []*model.Alert{a}}
	engine, cache, _, _ := newTestEngine(t, store)
	key := "NSE_EQ|INE062A01020"

	feed(engine, key, 100)

	alerts := cache.Get(key)
	if alerts[0].Status != model.StatusRunning {
		t.Errorf("status = %v, want %v", alerts[0].Status, model.StatusRunning)
	}
}

func TestEngine_EntryBoundaryWithoutEntryCrossed(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{longAlert(1, 100, 95, 110)}}
	engine, cache, _, _ := newTestEngine(t, store)
	key := "NSE_EQ|INE062A01020"

	feed(engine, key, 100)

	alerts := cache.Get(key)
	if alerts[0].Status != model.StatusPending {
		t.Errorf("status = %v, want %v", alerts[0].Status, model.StatusPending)
	}
}

func TestEngine_TerminalNeverMutated(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{longAlert(1, 100, 95, 110)}}
	engine, _, notifier, _ := newTestEngine(t, store)
	key := "NSE_EQ|INE062A01020"

	feed(engine, key, 94)
	updatesAfterTerminal := len(store.updates)
	notificationsAfterTerminal := len(notifier.calls)

	feed(engine, key, 98, 110, 94.5)

	if len(store.updates) != updatesAfterTerminal {
		t.Errorf("terminal alert produced %d extra updates", len(store.updates)-updatesAfterTerminal)
	}
	if len(notifier.calls) != notificationsAfterTerminal {
		t.Errorf("terminal alert produced %d extra notifications", len(notifier.calls)-notificationsAfterTerminal)
	}
}

func TestEngine_SameLTPIsIdempotent(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{longAlert(1, 100, 95, 110)}}
	engine, cache, notifier, _ := newTestEngine(t, store)
	key := "NSE_EQ|INE062A01020"

	feed(engine, key, 98, 98, 98)

	if len(store.updates) != 1 {
		t.Errorf("got %d updates, want 1", len(store.updates))
	}
	if len(notifier.calls) != 1 {
		t.Errorf("got %d notifications, want 1", len(notifier.calls))
	}

	alerts := cache.Get(key)
	if alerts[0].Status != model.StatusEnter {
		t.Errorf("status = %v, want %v", alerts[0].Status, model.StatusEnter)
	}
}

func TestEngine_EntryCrossedMonotonic(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{longAlert(1, 100, 95, 110)}}
	engine, cache, _, _ := newTestEngine(t, store)
	key := "NSE_EQ|INE062A01020"

	// Enter the zone, then retreat above entry.
	feed(engine, key, 98, 100.5, 99)

	alerts := cache.Get(key)
	if !alerts[0].EntryCrossed {
		t.Error("entry_crossed reset after being set")
	}
}

func TestEngine_NotReadyDropsTicks(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{longAlert(1, 100, 95, 110)}}
	cache := NewCache(store, time.Hour, nil)
	engine, err := NewEngine(cache, store, nil, nil, 128, time.Second, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	feed(engine, "NSE_EQ|INE062A01020", 94)

	if len(store.updates) != 0 {
		t.Errorf("got %d updates before first refresh, want 0", len(store.updates))
	}
}

func TestEngine_LiveEventPerStatusChange(t *testing.T) {
	store := &fakeStore{alerts: []*model.Alert{longAlert(1, 100, 95, 110)}}
	engine, _, _, live := newTestEngine(t, store)
	key := "NSE_EQ|INE062A01020"

	feed(engine, key, 98, 97.5, 101)

	// pending→enter at 98, enter→running at 97.5; 101 stays running.
	if len(live.updates) != 2 {
		t.Fatalf("got %d live updates, want 2", len(live.updates))
	}
	if live.updates[0].Status != model.StatusEnter {
		t.Errorf("first live status = %v, want %v", live.updates[0].Status, model.StatusEnter)
	}
	if live.updates[1].Status != model.StatusRunning {
		t.Errorf("second live status = %v, want %v", live.updates[1].Status, model.StatusRunning)
	}
	if live.updates[0].Symbol != key {
		t.Errorf("live symbol = %q, want %q", live.updates[0].Symbol, key)
	}
}
