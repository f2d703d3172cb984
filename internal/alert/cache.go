package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tradewatch/alertd/internal/metrics"
	"github.com/tradewatch/alertd/internal/model"
)

// Cache is the in-process map of non-terminal alerts keyed by instrument,
// refreshed from the durable store on a fixed interval. Readers always see
// either the pre-refresh or the post-refresh map, never a partial one.
type Cache struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	byKey map[string][]*model.Alert

	ready   atomic.Bool
	group   singleflight.Group
	trigger chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCache creates an alert cache. It is empty and not ready until the
// first refresh completes.
func NewCache(store Store, interval time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		store:    store,
		interval: interval,
		logger:   logger,
		byKey:    map[string][]*model.Alert{},
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start runs the first refresh synchronously, then launches the periodic
// refresher. The cache is ready once Start returns nil.
func (c *Cache) Start(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("initial alert refresh: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)

	c.logger.Info("alert cache started", "interval", c.interval)
	return nil
}

// Stop halts the refresher.
func (c *Cache) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the first refresh has completed. Tick processing
// must not start before this.
func (c *Cache) Ready() bool {
	return c.ready.Load()
}

// Refresh reloads the cache from the durable store. Concurrent calls
// coalesce into a single load.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		alerts, err := c.store.LoadActive(ctx)
		if err != nil {
			return nil, err
		}

		next := make(map[string][]*model.Alert, len(alerts))
		for _, a := range alerts {
			if a.User == nil || a.User.ID == 0 {
				c.logger.Warn("dropping alert without owner", "alert_id", a.ID)
				continue
			}
			next[a.InstrumentKey] = append(next[a.InstrumentKey], a)
		}

		c.mu.Lock()
		c.byKey = next
		c.mu.Unlock()
		c.ready.Store(true)
		metrics.CachedAlerts.Set(float64(len(alerts)))

		c.logger.Debug("alert cache refreshed",
			"alerts", len(alerts),
			"instruments", len(next),
		)
		return nil, nil
	})
	return err
}

// RefreshNow schedules an immediate refresh without blocking. Used after
// external alert CRUD.
func (c *Cache) RefreshNow() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Get returns the cached alerts for one instrument. The returned slice is
// shared with the cache; the engine serializes mutation per instrument.
func (c *Cache) Get(instrumentKey string) []*model.Alert {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byKey[instrumentKey]
}

// Instruments returns every instrument key with at least one cached alert.
func (c *Cache) Instruments() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.byKey))
	for key := range c.byKey {
		keys = append(keys, key)
	}
	return keys
}

// Len returns the total number of cached alerts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, alerts := range c.byKey {
		n += len(alerts)
	}
	return n
}

// Remove drops one alert from its instrument slice after a terminal
// transition.
func (c *Cache) Remove(instrumentKey string, alertID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	alerts := c.byKey[instrumentKey]
	for i, a := range alerts {
		if a.ID == alertID {
			c.byKey[instrumentKey] = append(alerts[:i], alerts[i+1:]...)
			break
		}
	}
	if len(c.byKey[instrumentKey]) == 0 {
		delete(c.byKey, instrumentKey)
	}
}

func (c *Cache) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.trigger:
		}

		if err := c.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("alert refresh failed", "error", err)
		}
	}
}
