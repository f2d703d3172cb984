package live

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tradewatch/alertd/internal/alert"
	"github.com/tradewatch/alertd/internal/metrics"
	"github.com/tradewatch/alertd/internal/model"
)

// Event names on the client socket.
const (
	EventTick          = "tick"
	EventStatusUpdated = "alert_status_updated"
	EventTriggered     = "alert_triggered"
	EventReconnected   = "ws-reconnected"
)

// Message is the wire envelope for client socket events.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event string, data any) ([]byte, bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	out, err := json.Marshal(Message{Event: event, Data: raw})
	if err != nil {
		return nil, false
	}
	return out, true
}

func userRoom(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func instrumentRoom(sym string) string {
	return "instrument:" + sym
}

// Hub tracks sessions and room membership. It implements the engine's
// LiveEmitter and the dispatcher's Broadcaster.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	rooms    map[string]map[*Session]bool
	sessions map[*Session]bool
	byUser   map[int64]int // open sessions per user
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		rooms:    map[string]map[*Session]bool{},
		sessions: map[*Session]bool{},
		byUser:   map[int64]int{},
	}
}

// register adds a session and joins its user room. Returns the number of
// open sessions for the user, including this one.
func (h *Hub) register(s *Session) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s] = true
	h.byUser[s.userID]++
	h.joinLocked(userRoom(s.userID), s)
	metrics.LiveSessions.Set(float64(len(h.sessions)))
	return h.byUser[s.userID]
}

// unregister removes a session from every room. Returns the number of
// sessions the user still has open.
func (h *Hub) unregister(s *Session) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.sessions[s] {
		return h.byUser[s.userID]
	}
	delete(h.sessions, s)
	metrics.LiveSessions.Set(float64(len(h.sessions)))

	for room := range s.rooms {
		h.leaveLocked(room, s)
	}
	h.leaveLocked(userRoom(s.userID), s)

	h.byUser[s.userID]--
	if h.byUser[s.userID] <= 0 {
		delete(h.byUser, s.userID)
		return 0
	}
	return h.byUser[s.userID]
}

func (h *Hub) join(room string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(room, s)
}

func (h *Hub) leave(room string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, s)
}

func (h *Hub) joinLocked(room string, s *Session) {
	members, ok := h.rooms[room]
	if !ok {
		members = map[*Session]bool{}
		h.rooms[room] = members
	}
	members[s] = true
	s.rooms[room] = true
}

func (h *Hub) leaveLocked(room string, s *Session) {
	delete(s.rooms, room)
	members := h.rooms[room]
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// emit sends an event to every session in a room. Slow sessions drop the
// message rather than block the producer.
func (h *Hub) emit(room, event string, data any) {
	payload, ok := encode(event, data)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[room] {
		s.enqueue(payload)
	}
}

// BroadcastTick pushes a tick to the instrument's viewer room.
func (h *Hub) BroadcastTick(instrumentKey string, tick model.Tick) {
	h.emit(instrumentRoom(instrumentKey), EventTick, map[string]any{
		"symbol": instrumentKey,
		"tick":   tick,
	})
}

// EmitStatusUpdate pushes an alert state change to the owner's sessions.
func (h *Hub) EmitStatusUpdate(userID int64, ev alert.StatusUpdate) {
	h.emit(userRoom(userID), EventStatusUpdated, ev)
}

// EmitAlertTriggered pushes a terminal transition to the owner's sessions.
func (h *Hub) EmitAlertTriggered(userID int64, tradingSymbol string) {
	h.emit(userRoom(userID), EventTriggered, map[string]string{
		"trading_symbol": tradingSymbol,
	})
}

// BroadcastReconnected tells every session the upstream feed reconnected.
func (h *Hub) BroadcastReconnected() {
	payload, ok := encode(EventReconnected, map[string]any{})
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		s.enqueue(payload)
	}
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
