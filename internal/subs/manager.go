package subs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tradewatch/alertd/internal/feed"
	"github.com/tradewatch/alertd/internal/metrics"
)

// AlertSource lists the instruments that carry non-terminal alerts.
type AlertSource interface {
	DistinctInstruments(ctx context.Context) ([]string, error)
}

// Feed is the upstream subscription surface the manager drives.
type Feed interface {
	Subscribe(keys ...string) error
	Unsubscribe(keys ...string) error
}

// Manager reconciles the persistent stock set against the durable store on
// a fixed interval: instruments gaining alerts are subscribed, instruments
// losing their last alert are unsubscribed unless viewers remain.
type Manager struct {
	alerts   AlertSource
	store    CacheStore
	feed     Feed
	interval time.Duration
	logger   *slog.Logger

	group singleflight.Group

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a subscription reconciler.
func NewManager(alerts AlertSource, store CacheStore, f Feed, interval time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		alerts:   alerts,
		store:    store,
		feed:     f,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the periodic reconciler.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx)

	m.logger.Info("subscription manager started", "interval", m.interval)
	return nil
}

// Stop halts the reconciler.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile runs one reconciliation pass. Overlapping calls coalesce into a
// single pass. Errors are returned for logging; the next cycle recovers
// from transient failures.
func (m *Manager) Reconcile(ctx context.Context) error {
	_, err, _ := m.group.Do("reconcile", func() (any, error) {
		return nil, m.reconcile(ctx)
	})
	return err
}

func (m *Manager) reconcile(ctx context.Context) error {
	needed, err := m.alerts.DistinctInstruments(ctx)
	if err != nil {
		return err
	}
	current, err := m.store.PersistentStocks(ctx)
	if err != nil {
		return err
	}

	neededSet := make(map[string]bool, len(needed))
	for _, sym := range needed {
		neededSet[sym] = true
	}
	currentSet := make(map[string]bool, len(current))
	for _, sym := range current {
		currentSet[sym] = true
	}

	var toAdd []string
	for _, sym := range needed {
		if !currentSet[sym] {
			toAdd = append(toAdd, sym)
		}
	}
	var toRemove []string
	for _, sym := range current {
		if !neededSet[sym] {
			toRemove = append(toRemove, sym)
		}
	}

	if len(toAdd) > 0 {
		if err := m.store.AddPersistent(ctx, toAdd...); err != nil {
			return err
		}
		if err := m.feed.Subscribe(toAdd...); err != nil && !errors.Is(err, feed.ErrNotConnected) {
			m.logger.Error("subscribe failed during reconcile", "count", len(toAdd), "error", err)
		}
	}

	if len(toRemove) > 0 {
		if err := m.store.RemovePersistent(ctx, toRemove...); err != nil {
			return err
		}

		flags, err := m.store.InterestFlags(ctx, toRemove)
		if err != nil {
			return err
		}
		var unsub []string
		for _, sym := range toRemove {
			if flags[sym].Viewers == 0 {
				unsub = append(unsub, sym)
			}
		}
		if len(unsub) > 0 {
			if err := m.feed.Unsubscribe(unsub...); err != nil && !errors.Is(err, feed.ErrNotConnected) {
				m.logger.Error("unsubscribe failed during reconcile", "count", len(unsub), "error", err)
			}
		}
	}

	metrics.SubscribedInstruments.Set(float64(len(needed)))
	if len(toAdd) > 0 || len(toRemove) > 0 {
		m.logger.Info("subscription set reconciled",
			"added", len(toAdd),
			"removed", len(toRemove),
		)
	}
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Reconcile(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Error("subscription reconcile failed", "error", err)
			}
		}
	}
}
