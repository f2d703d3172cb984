package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tradewatch/alertd/internal/metrics"
	"github.com/tradewatch/alertd/internal/model"
)

// Notification priorities. Lower is more urgent.
const (
	PriorityTerminal = 1
	PriorityEnter    = 2
)

// statuses whose entry edge fires a notification.
func notifiable(s model.Status) bool {
	return s == model.StatusSLHit || s == model.StatusTargetHit || s == model.StatusEnter
}

// StatusUpdate is the live event payload emitted on every state change.
type StatusUpdate struct {
	AlertID      int64          `json:"alertId"`
	Status       model.Status   `json:"status"`
	Symbol       string         `json:"symbol"`
	Price        float64        `json:"price"`
	Position     model.Position `json:"position"`
	TradeType    string         `json:"trade_type"`
	EntryCrossed bool           `json:"entry_crossed"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Notifier enqueues user notifications for qualifying transitions.
type Notifier interface {
	NotifyTransition(ctx context.Context, alert *model.Alert, price float64, priority int)
}

// LiveEmitter pushes events to a user's open client sessions.
type LiveEmitter interface {
	EmitStatusUpdate(userID int64, ev StatusUpdate)
	EmitAlertTriggered(userID int64, tradingSymbol string)
}

// Engine advances alerts through the state machine as ticks arrive.
// Processing is serialized per instrument; different instruments may be
// processed concurrently.
type Engine struct {
	cache       *Cache
	store       Store
	notifier    Notifier
	live        LiveEmitter
	bulkTimeout time.Duration
	logger      *slog.Logger

	lastProcessed *lru.Cache[string, float64]

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewEngine creates an alert engine. notifier and live may be nil, in which
// case the corresponding fan-out is skipped.
func NewEngine(cache *Cache, store Store, notifier Notifier, live LiveEmitter, dedupSize int, bulkTimeout time.Duration, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dedup, err := lru.New[string, float64](dedupSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cache:         cache,
		store:         store,
		notifier:      notifier,
		live:          live,
		bulkTimeout:   bulkTimeout,
		logger:        logger,
		lastProcessed: dedup,
		locks:         map[string]*sync.Mutex{},
	}, nil
}

// Process evaluates every cached alert on one instrument against a new
// price. No-op until the first cache refresh completes, and when the price
// equals the last processed price for the instrument.
func (e *Engine) Process(ctx context.Context, instrumentKey string, ltp float64) {
	if !e.cache.Ready() {
		e.logger.Debug("dropping tick, alert cache not ready", "instrument", instrumentKey)
		return
	}

	lock := e.symbolLock(instrumentKey)
	lock.Lock()
	defer lock.Unlock()

	if last, ok := e.lastProcessed.Get(instrumentKey); ok && last == ltp {
		return
	}
	e.lastProcessed.Add(instrumentKey, ltp)

	alerts := e.cache.Get(instrumentKey)
	if len(alerts) == 0 {
		return
	}

	var updates []Update
	for _, a := range alerts {
		if a.Status.Terminal() {
			continue
		}

		oldStatus := a.Status
		newStatus, newEC := evaluate(a, ltp)

		if newStatus == oldStatus && newEC == a.EntryCrossed &&
			a.LastLTP != nil && *a.LastLTP == ltp {
			continue
		}

		price := ltp
		a.Status = newStatus
		a.EntryCrossed = newEC
		a.LastLTP = &price

		updates = append(updates, Update{
			AlertID:      a.ID,
			Status:       newStatus,
			LastLTP:      ltp,
			EntryCrossed: newEC,
		})

		if newStatus != oldStatus {
			metrics.AlertTransitions.WithLabelValues(string(newStatus)).Inc()
			e.fanOut(ctx, a, oldStatus, ltp)
		}
		if newStatus.Terminal() {
			e.cache.Remove(instrumentKey, a.ID)
		}
	}

	if len(updates) == 0 {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, e.bulkTimeout)
	defer cancel()
	if err := e.store.BulkUpdate(writeCtx, updates); err != nil {
		// In-memory state already advanced; the next refresh converges
		// toward the durable store.
		metrics.BulkWriteFailures.Inc()
		e.logger.Error("bulk alert update failed",
			"instrument", instrumentKey,
			"updates", len(updates),
			"error", err,
		)
	}
}

// evaluate returns the next status and entry_crossed flag for one alert at
// the given price. First matching rule wins.
func evaluate(a *model.Alert, ltp float64) (model.Status, bool) {
	prev := a.PrevLTP()
	ec := a.EntryCrossed

	switch {
	case a.SLHitAt(ltp):
		return model.StatusSLHit, ec
	case a.TargetHitAt(ltp) && ec:
		return model.StatusTargetHit, ec
	case a.EnterAt(ltp) && !ec:
		return model.StatusEnter, true
	case ec && a.CrossedEntryAt(prev, ltp):
		return model.StatusRunning, ec
	case (a.Status == model.StatusEnter || a.Status == model.StatusRunning) && ec &&
		(a.StillRunningAt(ltp) || a.EnterAt(ltp)):
		return model.StatusRunning, ec
	case a.NearEntryAt(ltp) && !ec:
		return model.StatusNearEntry, ec
	default:
		return model.StatusPending, ec
	}
}

// fanOut emits live events and, on notification edges, enqueues user
// notifications. Called after the in-memory alert is mutated.
func (e *Engine) fanOut(ctx context.Context, a *model.Alert, oldStatus model.Status, ltp float64) {
	if e.live != nil {
		e.live.EmitStatusUpdate(a.UserID, StatusUpdate{
			AlertID:      a.ID,
			Status:       a.Status,
			Symbol:       a.InstrumentKey,
			Price:        ltp,
			Position:     a.Position,
			TradeType:    a.TradeType,
			EntryCrossed: a.EntryCrossed,
			Timestamp:    time.Now().UTC(),
		})
		if a.Status.Terminal() {
			e.live.EmitAlertTriggered(a.UserID, a.TradingSymbol)
		}
	}

	if e.notifier != nil && notifiable(a.Status) {
		priority := PriorityEnter
		if a.Status.Terminal() {
			priority = PriorityTerminal
		}
		e.notifier.NotifyTransition(ctx, a, ltp, priority)
	}

	e.logger.Info("alert transition",
		"alert_id", a.ID,
		"instrument", a.InstrumentKey,
		"from", oldStatus,
		"to", a.Status,
		"ltp", ltp,
	)
}

func (e *Engine) symbolLock(sym string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	l, ok := e.locks[sym]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sym] = l
	}
	return l
}
