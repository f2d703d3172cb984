package dispatch

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tradewatch/alertd/internal/config"
	"github.com/tradewatch/alertd/internal/metrics"
	"github.com/tradewatch/alertd/internal/model"
)

const flushTimeout = 5 * time.Second

// Engine is the alert processing hand-off target.
type Engine interface {
	Process(ctx context.Context, instrumentKey string, ltp float64)
}

// TickStore persists coalesced tick batches.
type TickStore interface {
	SetLastTicks(ctx context.Context, ticks map[string]model.Tick, ttl time.Duration) error
}

// Broadcaster fans a tick out to the instrument's viewer sessions.
type Broadcaster interface {
	BroadcastTick(instrumentKey string, tick model.Tick)
}

type job struct {
	instrumentKey string
	ltp           float64
}

// Dispatcher is the per-tick hot path. HandleTick never blocks on cache,
// broadcast, or engine I/O.
type Dispatcher struct {
	store   TickStore
	live    Broadcaster
	engine  Engine
	cfg     config.DispatchConfig
	workers int
	logger  *slog.Logger

	bufMu  sync.Mutex
	buffer map[string]model.Tick

	lastBroadcast *lru.Cache[string, float64]

	// One queue per worker, sharded by instrument key, so ticks for one
	// instrument reach the engine in arrival order.
	work []chan job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a tick dispatcher. live and engine may be nil in
// tests.
func NewDispatcher(store TickStore, live Broadcaster, engine Engine, cfg config.DispatchConfig, workers int, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dedup, err := lru.New[string, float64](cfg.DedupSize)
	if err != nil {
		return nil, err
	}

	if workers < 1 {
		workers = 1
	}
	work := make([]chan job, workers)
	for i := range work {
		work[i] = make(chan job, cfg.QueueSize)
	}

	return &Dispatcher{
		store:         store,
		live:          live,
		engine:        engine,
		cfg:           cfg,
		workers:       workers,
		logger:        logger,
		buffer:        map[string]model.Tick{},
		lastBroadcast: dedup,
		work:          work,
	}, nil
}

// Start launches the flush loop and the engine worker pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.flushLoop(runCtx)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(runCtx, d.work[i])
	}

	d.logger.Info("tick dispatcher started",
		"flush_interval", d.cfg.FlushInterval,
		"workers", d.workers,
	)
	return nil
}

// Stop drains the remaining buffer and waits for workers to exit.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.flush(ctx)
	d.logger.Info("tick dispatcher stopped")
	return nil
}

// HandleTick runs the four dispatch steps for one decoded tick.
func (d *Dispatcher) HandleTick(tick model.Tick) {
	sym := tick.InstrumentKey

	d.bufMu.Lock()
	d.buffer[sym] = tick
	d.bufMu.Unlock()

	// Dedup gates only the broadcast; the engine keeps its own
	// last-processed table.
	if last, ok := d.lastBroadcast.Get(sym); !ok || last != tick.LTP {
		d.lastBroadcast.Add(sym, tick.LTP)
		if d.live != nil {
			d.live.BroadcastTick(sym, tick)
		}
	}

	if d.engine == nil || math.IsNaN(tick.LTP) || math.IsInf(tick.LTP, 0) {
		return
	}
	select {
	case d.work[d.shard(sym)] <- job{instrumentKey: sym, ltp: tick.LTP}:
	default:
		metrics.EngineQueueDrops.Inc()
		d.logger.Warn("engine queue full, dropping tick", "instrument", sym)
	}
}

// flush writes the buffered ticks to the cache as one pipelined batch.
func (d *Dispatcher) flush(ctx context.Context) {
	d.bufMu.Lock()
	if len(d.buffer) == 0 {
		d.bufMu.Unlock()
		return
	}
	batch := d.buffer
	d.buffer = make(map[string]model.Tick, len(batch))
	d.bufMu.Unlock()

	metrics.TickFlushSize.Observe(float64(len(batch)))

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := d.store.SetLastTicks(writeCtx, batch, d.cfg.TickTTL); err != nil {
		d.logger.Error("tick flush failed", "ticks", len(batch), "error", err)
	}
}

func (d *Dispatcher) flushLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.flush(ctx)
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, work <-chan job) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-work:
			d.engine.Process(ctx, j.instrumentKey, j.ltp)
		}
	}
}

func (d *Dispatcher) shard(sym string) int {
	h := fnv.New32a()
	h.Write([]byte(sym))
	return int(h.Sum32() % uint32(len(d.work)))
}
