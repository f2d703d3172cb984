package live

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradewatch/alertd/internal/alert"
	"github.com/tradewatch/alertd/internal/config"
	"github.com/tradewatch/alertd/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAuth struct{ userID int64 }

func (f fakeAuth) Authenticate(r *http.Request) (int64, error) { return f.userID, nil }

type fakeUserData struct {
	alerts    []string
	watchlist []string
}

func (f *fakeUserData) AlertInstruments(ctx context.Context, userID int64) ([]string, error) {
	return f.alerts, nil
}

func (f *fakeUserData) WatchlistInstruments(ctx context.Context, userID int64) ([]string, error) {
	return f.watchlist, nil
}

type fakeViewerStore struct {
	mu         sync.Mutex
	viewers    map[string]map[int64]bool
	persistent map[string]bool
	ticks      map[string]model.Tick
}

func newFakeViewerStore() *fakeViewerStore {
	return &fakeViewerStore{
		viewers:    map[string]map[int64]bool{},
		persistent: map[string]bool{},
		ticks:      map[string]model.Tick{},
	}
}

func (f *fakeViewerStore) AddViewer(ctx context.Context, sym string, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewers[sym] == nil {
		f.viewers[sym] = map[int64]bool{}
	}
	f.viewers[sym][userID] = true
	return int64(len(f.viewers[sym])), nil
}

func (f *fakeViewerStore) RemoveViewer(ctx context.Context, sym string, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.viewers[sym], userID)
	return int64(len(f.viewers[sym])), nil
}

func (f *fakeViewerStore) UserStocks(ctx context.Context, userID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for sym, users := range f.viewers {
		if users[userID] {
			out = append(out, sym)
		}
	}
	return out, nil
}

func (f *fakeViewerStore) IsPersistent(ctx context.Context, sym string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persistent[sym], nil
}

func (f *fakeViewerStore) HasPrice(ctx context.Context, syms []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for _, sym := range syms {
		_, ok := f.ticks[sym]
		out[sym] = ok
	}
	return out, nil
}

func (f *fakeViewerStore) LastTicks(ctx context.Context, syms []string) (map[string]model.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]model.Tick{}
	for _, sym := range syms {
		if tick, ok := f.ticks[sym]; ok {
			out[sym] = tick
		}
	}
	return out, nil
}

type fakeLiveFeed struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
}

func (f *fakeLiveFeed) Subscribe(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, keys...)
	return nil
}

func (f *fakeLiveFeed) Unsubscribe(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, keys...)
	return nil
}

func testLiveConfig() config.LiveConfig {
	return config.LiveConfig{
		Addr:           "127.0.0.1:0",
		WriteTimeout:   time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		SendBufferSize: 16,
	}
}

func newTestServer(users *fakeUserData, store *fakeViewerStore, f *fakeLiveFeed) *Server {
	hub := NewHub(discardLogger())
	return NewServer(testLiveConfig(), hub, fakeAuth{userID: 7}, users, store, f, nil, discardLogger())
}

// stubSession creates a session detached from a real socket for hub tests.
func stubSession(s *Server, userID int64) *Session {
	return newSession(s, nil, userID)
}

func drainEvent(t *testing.T, sess *Session) Message {
	t.Helper()
	select {
	case payload := <-sess.send:
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return msg
	default:
		t.Fatal("no event queued")
		return Message{}
	}
}

func TestHub_BroadcastTickReachesRoomOnly(t *testing.T) {
	srv := newTestServer(&fakeUserData{}, newFakeViewerStore(), &fakeLiveFeed{})
	viewer := stubSession(srv, 1)
	other := stubSession(srv, 2)
	srv.hub.register(viewer)
	srv.hub.register(other)
	srv.hub.join(instrumentRoom("A"), viewer)

	srv.hub.BroadcastTick("A", model.Tick{InstrumentKey: "A", LTP: 10})

	msg := drainEvent(t, viewer)
	if msg.Event != EventTick {
		t.Errorf("event = %q, want %q", msg.Event, EventTick)
	}
	if len(other.send) != 0 {
		t.Error("session outside the room received the tick")
	}
}

func TestHub_EmitStatusUpdateTargetsUserRoom(t *testing.T) {
	srv := newTestServer(&fakeUserData{}, newFakeViewerStore(), &fakeLiveFeed{})
	mine := stubSession(srv, 7)
	theirs := stubSession(srv, 8)
	srv.hub.register(mine)
	srv.hub.register(theirs)

	srv.hub.EmitStatusUpdate(7, alert.StatusUpdate{AlertID: 1, Status: model.StatusEnter})

	msg := drainEvent(t, mine)
	if msg.Event != EventStatusUpdated {
		t.Errorf("event = %q, want %q", msg.Event, EventStatusUpdated)
	}
	if len(theirs.send) != 0 {
		t.Error("other user received the status update")
	}
}

func TestHub_BroadcastReconnectedReachesAll(t *testing.T) {
	srv := newTestServer(&fakeUserData{}, newFakeViewerStore(), &fakeLiveFeed{})
	a := stubSession(srv, 1)
	b := stubSession(srv, 2)
	srv.hub.register(a)
	srv.hub.register(b)

	srv.hub.BroadcastReconnected()

	for _, sess := range []*Session{a, b} {
		msg := drainEvent(t, sess)
		if msg.Event != EventReconnected {
			t.Errorf("event = %q, want %q", msg.Event, EventReconnected)
		}
	}
}

func TestHub_UnregisterTracksUserSessions(t *testing.T) {
	srv := newTestServer(&fakeUserData{}, newFakeViewerStore(), &fakeLiveFeed{})
	first := stubSession(srv, 7)
	second := stubSession(srv, 7)
	srv.hub.register(first)
	srv.hub.register(second)

	if got := srv.hub.unregister(first); got != 1 {
		t.Errorf("remaining sessions = %d, want 1", got)
	}
	if got := srv.hub.unregister(second); got != 0 {
		t.Errorf("remaining sessions = %d, want 0", got)
	}
}

func TestConnect_JoinsRoomsAndEmitsInitialTicks(t *testing.T) {
	users := &fakeUserData{alerts: []string{"A"}, watchlist: []string{"A", "B"}}
	store := newFakeViewerStore()
	store.ticks["A"] = model.Tick{InstrumentKey: "A", LTP: 100}
	feedClient := &fakeLiveFeed{}
	srv := newTestServer(users, store, feedClient)

	sess := stubSession(srv, 7)
	srv.hub.register(sess)

	if err := srv.connect(context.Background(), sess); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if !sess.rooms[instrumentRoom("A")] || !sess.rooms[instrumentRoom("B")] {
		t.Errorf("rooms = %v, want instrument rooms for A and B", sess.rooms)
	}

	// B is a first viewer with no cached price; A is cached.
	if len(feedClient.subscribed) != 1 || feedClient.subscribed[0] != "B" {
		t.Errorf("subscribed = %v, want [B]", feedClient.subscribed)
	}

	msg := drainEvent(t, sess)
	if msg.Event != EventTick {
		t.Errorf("event = %q, want %q", msg.Event, EventTick)
	}
}

func TestAddStock_FirstViewerSubscribes(t *testing.T) {
	store := newFakeViewerStore()
	feedClient := &fakeLiveFeed{}
	srv := newTestServer(&fakeUserData{}, store, feedClient)
	sess := stubSession(srv, 7)
	srv.hub.register(sess)

	if err := srv.addStock(context.Background(), sess, "A"); err != nil {
		t.Fatalf("addStock failed: %v", err)
	}
	if len(feedClient.subscribed) != 1 || feedClient.subscribed[0] != "A" {
		t.Errorf("subscribed = %v, want [A]", feedClient.subscribed)
	}
}

func TestAddStock_PersistentSkipsSubscribe(t *testing.T) {
	store := newFakeViewerStore()
	store.persistent["A"] = true
	feedClient := &fakeLiveFeed{}
	srv := newTestServer(&fakeUserData{}, store, feedClient)
	sess := stubSession(srv, 7)
	srv.hub.register(sess)

	if err := srv.addStock(context.Background(), sess, "A"); err != nil {
		t.Fatalf("addStock failed: %v", err)
	}
	if len(feedClient.subscribed) != 0 {
		t.Errorf("subscribed = %v, want none", feedClient.subscribed)
	}
}

func TestRemoveStock_LastViewerUnsubscribes(t *testing.T) {
	store := newFakeViewerStore()
	feedClient := &fakeLiveFeed{}
	srv := newTestServer(&fakeUserData{}, store, feedClient)
	sess := stubSession(srv, 7)
	srv.hub.register(sess)
	ctx := context.Background()

	if err := srv.addStock(ctx, sess, "A"); err != nil {
		t.Fatalf("addStock failed: %v", err)
	}
	if err := srv.removeStock(ctx, sess, "A"); err != nil {
		t.Fatalf("removeStock failed: %v", err)
	}

	if len(feedClient.unsubscribed) != 1 || feedClient.unsubscribed[0] != "A" {
		t.Errorf("unsubscribed = %v, want [A]", feedClient.unsubscribed)
	}
	if sess.rooms[instrumentRoom("A")] {
		t.Error("session still in the instrument room")
	}
}

func TestCleanupUser_PreservesAlertInstruments(t *testing.T) {
	users := &fakeUserData{alerts: []string{"KEEP"}}
	store := newFakeViewerStore()
	feedClient := &fakeLiveFeed{}
	srv := newTestServer(users, store, feedClient)
	ctx := context.Background()

	store.AddViewer(ctx, "KEEP", 7)
	store.AddViewer(ctx, "DROP", 7)

	if err := srv.cleanupUser(ctx, 7); err != nil {
		t.Fatalf("cleanupUser failed: %v", err)
	}

	if len(store.viewers["KEEP"]) != 1 {
		t.Error("alert-backed viewer registration was removed")
	}
	if len(store.viewers["DROP"]) != 0 {
		t.Error("watch-only viewer registration survived cleanup")
	}
	if len(feedClient.unsubscribed) != 1 || feedClient.unsubscribed[0] != "DROP" {
		t.Errorf("unsubscribed = %v, want [DROP]", feedClient.unsubscribed)
	}
}

func TestServer_WebSocketRoundTrip(t *testing.T) {
	users := &fakeUserData{watchlist: []string{"A"}}
	store := newFakeViewerStore()
	store.ticks["A"] = model.Tick{InstrumentKey: "A", LTP: 42}
	srv := newTestServer(users, store, &fakeLiveFeed{})

	ts := httptest.NewServer(http.HandlerFunc(srv.handleWS))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Event != EventTick {
		t.Errorf("event = %q, want %q", msg.Event, EventTick)
	}
}

func TestWatchReconnects_SkipsInitialConnect(t *testing.T) {
	srv := newTestServer(&fakeUserData{}, newFakeViewerStore(), &fakeLiveFeed{})
	sess := stubSession(srv, 7)
	srv.hub.register(sess)

	reconnected := make(chan struct{}, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.WatchReconnects(ctx, reconnected)

	reconnected <- struct{}{} // initial connect
	reconnected <- struct{}{} // real reconnect

	deadline := time.After(time.Second)
	for len(sess.send) == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for ws-reconnected broadcast")
		case <-time.After(5 * time.Millisecond):
		}
	}

	msg := drainEvent(t, sess)
	if msg.Event != EventReconnected {
		t.Errorf("event = %q, want %q", msg.Event, EventReconnected)
	}
	if len(sess.send) != 0 {
		t.Error("initial connect also broadcast ws-reconnected")
	}
}
