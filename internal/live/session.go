package live

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradewatch/alertd/internal/model"
)

// Client-sent event names.
const (
	eventAddStock       = "addStock"
	eventRemoveStock    = "removeStock"
	eventRequestHistory = "request-history"
	eventTestTick       = "tick"
)

// Session is one authenticated client connection.
type Session struct {
	server *Server
	conn   *websocket.Conn
	userID int64

	send  chan []byte
	rooms map[string]bool

	done chan struct{}
}

func newSession(server *Server, conn *websocket.Conn, userID int64) *Session {
	return &Session{
		server: server,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, server.cfg.SendBufferSize),
		rooms:  map[string]bool{},
		done:   make(chan struct{}),
	}
}

// enqueue queues an outbound frame, dropping it if the session is slow.
func (s *Session) enqueue(payload []byte) {
	select {
	case s.send <- payload:
	default:
		s.server.logger.Warn("session send buffer full, dropping event", "user_id", s.userID)
	}
}

func (s *Session) sendEvent(event string, data any) {
	if payload, ok := encode(event, data); ok {
		s.enqueue(payload)
	}
}

// readPump consumes client events until the connection drops.
func (s *Session) readPump(ctx context.Context) {
	defer s.server.disconnect(ctx, s)
	defer close(s.done)

	s.conn.SetReadDeadline(time.Now().Add(s.server.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.server.cfg.PongTimeout))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendEvent("error", map[string]string{"message": "malformed message"})
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *Session) handle(ctx context.Context, msg Message) {
	switch msg.Event {
	case eventAddStock:
		var sym string
		if err := json.Unmarshal(msg.Data, &sym); err != nil || sym == "" {
			s.sendEvent("error", map[string]string{"message": "addStock needs a symbol"})
			return
		}
		if err := s.server.addStock(ctx, s, sym); err != nil {
			s.server.logger.Error("addStock failed", "user_id", s.userID, "symbol", sym, "error", err)
			s.sendEvent("error", map[string]string{"message": "failed to add stock"})
		}

	case eventRemoveStock:
		var sym string
		if err := json.Unmarshal(msg.Data, &sym); err != nil || sym == "" {
			s.sendEvent("error", map[string]string{"message": "removeStock needs a symbol"})
			return
		}
		if err := s.server.removeStock(ctx, s, sym); err != nil {
			s.server.logger.Error("removeStock failed", "user_id", s.userID, "symbol", sym, "error", err)
			s.sendEvent("error", map[string]string{"message": "failed to remove stock"})
		}

	case eventRequestHistory:
		// History lives outside this service.
		s.sendEvent("error", map[string]string{"message": "history not available"})

	case eventTestTick:
		var tick model.Tick
		if err := json.Unmarshal(msg.Data, &tick); err != nil || tick.InstrumentKey == "" {
			return
		}
		if s.server.ticks != nil {
			s.server.ticks.HandleTick(tick)
		}

	default:
		s.sendEvent("error", map[string]string{"message": "unknown event: " + msg.Event})
	}
}

// writePump flushes queued frames and keeps the connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.server.cfg.PingInterval)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.server.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.server.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
