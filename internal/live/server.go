package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/tradewatch/alertd/internal/config"
	"github.com/tradewatch/alertd/internal/feed"
	"github.com/tradewatch/alertd/internal/model"
)

// Authenticator resolves a connection request to a user. Token validation
// belongs to the external auth subsystem.
type Authenticator interface {
	Authenticate(r *http.Request) (int64, error)
}

// UserData loads the instruments a user's session should watch.
type UserData interface {
	AlertInstruments(ctx context.Context, userID int64) ([]string, error)
	WatchlistInstruments(ctx context.Context, userID int64) ([]string, error)
}

// ViewerStore is the slice of the shared cache the session layer drives.
type ViewerStore interface {
	AddViewer(ctx context.Context, sym string, userID int64) (int64, error)
	RemoveViewer(ctx context.Context, sym string, userID int64) (int64, error)
	UserStocks(ctx context.Context, userID int64) ([]string, error)
	IsPersistent(ctx context.Context, sym string) (bool, error)
	HasPrice(ctx context.Context, syms []string) (map[string]bool, error)
	LastTicks(ctx context.Context, syms []string) (map[string]model.Tick, error)
}

// Feed is the upstream subscription surface the session layer drives.
type Feed interface {
	Subscribe(keys ...string) error
	Unsubscribe(keys ...string) error
}

// TickSink accepts client-injected test ticks.
type TickSink interface {
	HandleTick(tick model.Tick)
}

// Server accepts client websocket sessions and wires them into the hub.
type Server struct {
	cfg    config.LiveConfig
	hub    *Hub
	auth   Authenticator
	users  UserData
	store  ViewerStore
	feed   Feed
	ticks  TickSink
	logger *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer creates the live fan-out server. ticks may be nil to disable
// client-injected test ticks.
func NewServer(cfg config.LiveConfig, hub *Hub, auth Authenticator, users UserData, store ViewerStore, f Feed, ticks TickSink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		hub:    hub,
		auth:   auth,
		users:  users,
		store:  store,
		feed:   f,
		ticks:  ticks,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Start begins accepting client sessions.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("live server failed", "error", err)
		}
	}()

	s.logger.Info("live server started", "addr", s.cfg.Addr)
	return nil
}

// Stop closes the listener and open sessions.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.logger.Info("live server stopped")
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(s, conn, userID)
	s.hub.register(sess)

	ctx := context.WithoutCancel(r.Context())
	go sess.writePump()
	go sess.readPump(ctx)

	if err := s.connect(ctx, sess); err != nil {
		s.logger.Error("session setup failed", "user_id", userID, "error", err)
	}
}

// connect runs the session setup flow: load the user's instruments, join
// their rooms, register viewer interest, subscribe upstream where this
// session is the first viewer of an uncached instrument, and emit one
// initial tick per instrument from a single batched read.
func (s *Server) connect(ctx context.Context, sess *Session) error {
	var alertSyms, watchSyms []string
	g, loadCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		alertSyms, err = s.users.AlertInstruments(loadCtx, sess.userID)
		return err
	})
	g.Go(func() error {
		var err error
		watchSyms, err = s.users.WatchlistInstruments(loadCtx, sess.userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	seen := map[string]bool{}
	var syms []string
	for _, sym := range append(alertSyms, watchSyms...) {
		if sym != "" && !seen[sym] {
			seen[sym] = true
			syms = append(syms, sym)
		}
	}
	if len(syms) == 0 {
		return nil
	}

	var firstViewer []string
	for _, sym := range syms {
		s.hub.join(instrumentRoom(sym), sess)
		count, err := s.store.AddViewer(ctx, sym, sess.userID)
		if err != nil {
			s.logger.Warn("viewer registration failed", "symbol", sym, "error", err)
			continue
		}
		if count == 1 {
			firstViewer = append(firstViewer, sym)
		}
	}

	if len(firstViewer) > 0 {
		cached, err := s.store.HasPrice(ctx, firstViewer)
		if err != nil {
			cached = map[string]bool{}
		}
		var toSub []string
		for _, sym := range firstViewer {
			if !cached[sym] {
				toSub = append(toSub, sym)
			}
		}
		if len(toSub) > 0 {
			if err := s.feed.Subscribe(toSub...); err != nil && !errors.Is(err, feed.ErrNotConnected) {
				s.logger.Error("subscribe on connect failed", "count", len(toSub), "error", err)
			}
		}
	}

	ticks, err := s.store.LastTicks(ctx, syms)
	if err != nil {
		return err
	}
	for sym, tick := range ticks {
		sess.sendEvent(EventTick, map[string]any{"symbol": sym, "tick": tick})
	}
	return nil
}

// addStock registers viewer interest in one symbol. The 0→1 viewer
// transition drives an upstream subscribe unless an active alert already
// holds the instrument.
func (s *Server) addStock(ctx context.Context, sess *Session, sym string) error {
	s.hub.join(instrumentRoom(sym), sess)

	count, err := s.store.AddViewer(ctx, sym, sess.userID)
	if err != nil {
		return err
	}

	if count == 1 {
		persistent, err := s.store.IsPersistent(ctx, sym)
		if err != nil {
			return err
		}
		if !persistent {
			if err := s.feed.Subscribe(sym); err != nil && !errors.Is(err, feed.ErrNotConnected) {
				return err
			}
		}
	}

	if ticks, err := s.store.LastTicks(ctx, []string{sym}); err == nil {
		if tick, ok := ticks[sym]; ok {
			sess.sendEvent(EventTick, map[string]any{"symbol": sym, "tick": tick})
		}
	}
	return nil
}

// removeStock drops viewer interest in one symbol. The 1→0 transition
// drives an upstream unsubscribe unless an active alert still needs it.
func (s *Server) removeStock(ctx context.Context, sess *Session, sym string) error {
	s.hub.leave(instrumentRoom(sym), sess)

	remaining, err := s.store.RemoveViewer(ctx, sym, sess.userID)
	if err != nil {
		return err
	}

	if remaining == 0 {
		persistent, err := s.store.IsPersistent(ctx, sym)
		if err != nil {
			return err
		}
		if !persistent {
			if err := s.feed.Unsubscribe(sym); err != nil && !errors.Is(err, feed.ErrNotConnected) {
				return err
			}
		}
	}
	return nil
}

// disconnect tears a session down. When the user's last session closes,
// their viewer registrations are cleaned up, preserving instruments their
// active alerts still need.
func (s *Server) disconnect(ctx context.Context, sess *Session) {
	remaining := s.hub.unregister(sess)
	sess.conn.Close()

	if remaining > 0 {
		return
	}
	if err := s.cleanupUser(ctx, sess.userID); err != nil {
		s.logger.Error("user cleanup failed", "user_id", sess.userID, "error", err)
	}
}

func (s *Server) cleanupUser(ctx context.Context, userID int64) error {
	stocks, err := s.store.UserStocks(ctx, userID)
	if err != nil {
		return err
	}
	if len(stocks) == 0 {
		return nil
	}

	alertSyms, err := s.users.AlertInstruments(ctx, userID)
	if err != nil {
		return err
	}
	needed := make(map[string]bool, len(alertSyms))
	for _, sym := range alertSyms {
		needed[sym] = true
	}

	var unsub []string
	for _, sym := range stocks {
		if needed[sym] {
			continue
		}
		remaining, err := s.store.RemoveViewer(ctx, sym, userID)
		if err != nil {
			s.logger.Warn("viewer removal failed during cleanup", "symbol", sym, "error", err)
			continue
		}
		if remaining == 0 {
			persistent, err := s.store.IsPersistent(ctx, sym)
			if err == nil && !persistent {
				unsub = append(unsub, sym)
			}
		}
	}

	if len(unsub) > 0 {
		if err := s.feed.Unsubscribe(unsub...); err != nil && !errors.Is(err, feed.ErrNotConnected) {
			s.logger.Error("unsubscribe during cleanup failed", "count", len(unsub), "error", err)
		}
	}
	return nil
}

// WatchReconnects broadcasts ws-reconnected to every session each time the
// upstream feed comes back. Runs until ctx is cancelled or the channel
// closes.
func (s *Server) WatchReconnects(ctx context.Context, reconnected <-chan struct{}) {
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-reconnected:
			if !ok {
				return
			}
			// The initial connect is not a reconnect.
			if first {
				first = false
				continue
			}
			s.hub.BroadcastReconnected()
		}
	}
}
