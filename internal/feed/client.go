package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tradewatch/alertd/internal/config"
	"github.com/tradewatch/alertd/internal/metrics"
	"github.com/tradewatch/alertd/internal/model"
)

const (
	handshakeTimeout = 10 * time.Second
	jitterMax        = 2 * time.Second
	tickBuffer       = 4096
)

// Client is the upstream feed connection.
type Client interface {
	// Start connects and begins streaming. The connection is maintained
	// until ctx is cancelled, Stop is called, or the reconnect budget
	// is exhausted.
	Start(ctx context.Context) error

	// Stop closes the connection and waits for the run loop to exit.
	Stop(ctx context.Context) error

	// Subscribe requests full-mode ticks for the given instrument keys.
	Subscribe(keys ...string) error

	// Unsubscribe stops ticks for the given instrument keys.
	Unsubscribe(keys ...string) error

	// Ticks returns the decoded tick stream.
	Ticks() <-chan model.Tick

	// Reconnected signals each successful (re)connect so consumers can
	// resubscribe and notify downstream clients.
	Reconnected() <-chan struct{}

	// Status returns the current connection state.
	Status() Status
}

type client struct {
	cfg    config.UpstreamConfig
	tokens TokenSource
	subs   SubscriptionSource
	logger *slog.Logger

	httpClient *http.Client

	ticks       chan model.Tick
	reconnected chan struct{}

	writeMu sync.Mutex

	mu      sync.RWMutex
	conn    *websocket.Conn
	status  Status
	started bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a feed client. The subscription source is consulted on
// every (re)connect to rebuild the upstream subscription set.
func NewClient(cfg config.UpstreamConfig, tokens TokenSource, subs SubscriptionSource, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:         cfg,
		tokens:      tokens,
		subs:        subs,
		logger:      logger,
		httpClient:  &http.Client{Timeout: cfg.AuthTimeout},
		ticks:       make(chan model.Tick, tickBuffer),
		reconnected: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start launches the connection run loop.
func (c *client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(runCtx)

	c.logger.Info("feed client started", "auth_url", c.cfg.AuthURL)
	return nil
}

// Stop closes the connection and waits for the run loop to exit.
func (c *client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusClosing
	conn := c.conn
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Info("feed client stopped")
	return nil
}

// Subscribe requests full-mode ticks for the given instrument keys.
func (c *client) Subscribe(keys ...string) error {
	return c.sendControl("sub", keys)
}

// Unsubscribe stops ticks for the given instrument keys.
func (c *client) Unsubscribe(keys ...string) error {
	return c.sendControl("unsub", keys)
}

// Ticks returns the decoded tick stream.
func (c *client) Ticks() <-chan model.Tick {
	return c.ticks
}

// Reconnected returns the reconnect signal channel.
func (c *client) Reconnected() <-chan struct{} {
	return c.reconnected
}

// Status returns the current connection state.
func (c *client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// run connects, streams, and reconnects until ctx is cancelled or the
// attempt budget is spent. Attempts reset to zero after each successful
// connect.
func (c *client) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.ticks)

	attempts := 0
	for {
		c.setStatus(StatusConnecting)

		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setStatus(StatusDisconnected)
				return
			}

			attempts++
			metrics.FeedReconnects.Inc()
			if attempts >= c.cfg.MaxReconnectAttempts {
				c.setStatus(StatusExhausted)
				c.logger.Error("reconnect attempts exhausted",
					"attempts", attempts,
					"error", err,
				)
				return
			}

			delay := c.backoffDelay(attempts)
			c.logger.Warn("feed connect failed, retrying",
				"attempt", attempts,
				"delay", delay,
				"error", err,
			)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				c.setStatus(StatusDisconnected)
				return
			}
		}

		attempts = 0
		c.mu.Lock()
		c.conn = conn
		c.status = StatusOpen
		c.mu.Unlock()
		metrics.FeedConnectionStatus.Set(1)

		c.logger.Info("feed connected")
		c.resubscribe(ctx)
		c.signalReconnected()

		err = c.readLoop(ctx, conn)
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		metrics.FeedConnectionStatus.Set(0)

		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return
		}
		c.logger.Warn("feed connection lost", "error", err)
	}
}

// connect authorizes an ephemeral socket URL and dials it.
func (c *client) connect(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := c.authorize(ctx)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// authorize exchanges the bearer token for a one-shot websocket URL.
func (c *client) authorize(ctx context.Context) (string, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("access token: %w", err)
	}

	authCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(authCtx, http.MethodGet, c.cfg.AuthURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authorize endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			AuthorizedRedirectURI string `json:"authorized_redirect_uri"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode authorize response: %w", err)
	}
	if body.Data.AuthorizedRedirectURI == "" {
		return "", fmt.Errorf("authorize response missing redirect uri")
	}
	return body.Data.AuthorizedRedirectURI, nil
}

// resubscribe rebuilds the upstream subscription set from the source of
// truth. A failure here is logged, not fatal: the reconciler converges the
// set on its next pass.
func (c *client) resubscribe(ctx context.Context) {
	if c.subs == nil {
		return
	}

	keys, err := c.subs.ActiveInstruments(ctx)
	if err != nil {
		c.logger.Error("failed to load active instruments for resubscribe", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}

	if err := c.Subscribe(keys...); err != nil {
		c.logger.Error("resubscribe failed", "count", len(keys), "error", err)
		return
	}
	c.logger.Info("resubscribed after connect", "count", len(keys))
}

// readLoop decodes frames until the connection drops. A frame that fails to
// decode is skipped so one bad message cannot stall the stream.
func (c *client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		ticks, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("skipping undecodable frame", "bytes", len(data), "error", err)
			continue
		}

		metrics.TicksDecoded.Add(float64(len(ticks)))
		for _, tick := range ticks {
			select {
			case c.ticks <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// sendControl writes a subscription control frame. Upstream expects JSON in
// a binary frame.
func (c *client) sendControl(method string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	c.mu.RLock()
	conn := c.conn
	open := c.status == StatusOpen
	c.mu.RUnlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	msg := struct {
		GUID   string `json:"guid"`
		Method string `json:"method"`
		Data   struct {
			Mode           string   `json:"mode"`
			InstrumentKeys []string `json:"instrumentKeys"`
		} `json:"data"`
	}{
		GUID:   uuid.NewString(),
		Method: method,
	}
	msg.Data.Mode = "full"
	msg.Data.InstrumentKeys = keys

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// backoffDelay computes the delay before reconnect attempt n (1-based):
// base doubled per attempt, up to 2s of uniform jitter, capped at the
// configured maximum.
func (c *client) backoffDelay(attempt int) time.Duration {
	delay := c.cfg.ReconnectBaseDelay << (attempt - 1)
	if delay <= 0 || delay > c.cfg.ReconnectMaxDelay {
		delay = c.cfg.ReconnectMaxDelay
	}

	delay += time.Duration(rand.Int63n(int64(jitterMax)))
	if delay > c.cfg.ReconnectMaxDelay {
		delay = c.cfg.ReconnectMaxDelay
	}
	return delay
}

func (c *client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *client) signalReconnected() {
	select {
	case c.reconnected <- struct{}{}:
	default:
	}
}
