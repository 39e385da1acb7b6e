package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	"OTCDesk/pkg/cache"
	applogger "OTCDesk/pkg/logger"
	"OTCDesk/pkg/util"
)

// ControlSource yields the control state applied to the next tick of a symbol.
type ControlSource interface {
	ControlState(ctx context.Context, symbol string) models.ControlState
}

type feedState struct {
	gen  *PriceGenerator
	last float64
	seq  uint64
}

type priceSnapshot struct {
	Price float64   `json:"price"`
	Seq   uint64    `json:"seq"`
	Time  time.Time `json:"time"`
}

// PriceEngine drives every symbol from a single ticker: natural step, control
// perturbation, publish.
type PriceEngine struct {
	feeds    map[string]*feedState
	order    []string
	controls ControlSource
	dist     *TickDistributor
	cache    cache.Service
	clock    util.Clock
	metrics  domrepo.Metrics
	l        *applogger.Logger

	interval         time.Duration
	snapshotInterval time.Duration
	snapshotTTL      time.Duration

	mu     sync.RWMutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type PriceEngineOption func(*PriceEngine)

func WithTickInterval(d time.Duration) PriceEngineOption {
	return func(e *PriceEngine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithSnapshots persists last prices to c so a restart continues each series.
func WithSnapshots(c cache.Service, every, ttl time.Duration) PriceEngineOption {
	return func(e *PriceEngine) {
		e.cache = c
		if every > 0 {
			e.snapshotInterval = every
		}
		e.snapshotTTL = ttl
	}
}

func NewPriceEngine(symbols []SymbolParams, seed int64, controls ControlSource, dist *TickDistributor, clock util.Clock, metrics domrepo.Metrics, l *applogger.Logger, opts ...PriceEngineOption) *PriceEngine {
	e := &PriceEngine{
		feeds:            make(map[string]*feedState, len(symbols)),
		controls:         controls,
		dist:             dist,
		clock:            clock,
		metrics:          metrics,
		l:                l,
		interval:         time.Second,
		snapshotInterval: 5 * time.Second,
	}
	for _, p := range symbols {
		e.feeds[p.Symbol] = &feedState{gen: NewPriceGenerator(p, seed), last: p.BasePrice}
		e.order = append(e.order, p.Symbol)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Symbols returns the configured symbols in configuration order.
func (e *PriceEngine) Symbols() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

func (e *PriceEngine) HasSymbol(symbol string) bool {
	_, ok := e.feeds[symbol]
	return ok
}

// Start restores snapshots and runs the tick loop until Stop.
func (e *PriceEngine) Start(ctx context.Context) {
	e.restore(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.Step(runCtx, e.clock.Now())
			}
		}
	}()

	if e.cache != nil {
		ch, unsubscribe := e.dist.Subscribe("snapshot", len(e.order)*4)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer unsubscribe()
			e.snapshotLoop(runCtx, ch)
		}()
	}

	e.l.Info("price engine started",
		applogger.Int("symbols", len(e.order)),
		applogger.Duration("interval", e.interval),
	)
}

// Stop ends the loop and writes a final snapshot.
func (e *PriceEngine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.l.Info("price engine stopped")
}

// Step runs one cycle over every symbol at now. A failing symbol is logged
// and skipped.
func (e *PriceEngine) Step(ctx context.Context, now time.Time) {
	start := time.Now()
	for _, symbol := range e.order {
		if err := e.stepSymbol(ctx, symbol, now); err != nil {
			e.metrics.RecordError("tick")
			e.l.Error("tick failed",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
	}
	e.metrics.RecordLatency("engine_step", time.Since(start).Seconds())
}

func (e *PriceEngine) stepSymbol(ctx context.Context, symbol string, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	state := e.controls.ControlState(ctx, symbol)

	e.mu.Lock()
	f := e.feeds[symbol]
	nt := f.gen.Next(f.last, now)
	tick := Perturb(nt, state)
	if !finite(tick.Price) || tick.Price <= 0 {
		e.mu.Unlock()
		return fmt.Errorf("unpublishable price %v", tick.Price)
	}
	f.seq++
	f.last = tick.Price
	tick.Seq = f.seq
	e.mu.Unlock()

	e.metrics.RecordLastPrice(symbol, tick.Price)
	e.dist.Publish(tick)
	return nil
}

// GetPublishedPrice returns the price a trade of symbol would see now: the
// override while one is in force, otherwise the last published price.
func (e *PriceEngine) GetPublishedPrice(ctx context.Context, symbol string) (float64, error) {
	e.mu.RLock()
	f, ok := e.feeds[symbol]
	var last float64
	if ok {
		last = f.last
	}
	e.mu.RUnlock()
	if !ok {
		return 0, models.NotFoundErrorf("unknown symbol %s", symbol)
	}
	if s := e.controls.ControlState(ctx, symbol); s.Override != nil {
		return *s.Override, nil
	}
	return last, nil
}

func (e *PriceEngine) restore(ctx context.Context) {
	if e.cache == nil {
		return
	}
	restored := 0
	for _, symbol := range e.order {
		var snap priceSnapshot
		err := e.cache.Get(ctx, cache.GenerateKey("price", symbol), &snap)
		if errors.Is(err, cache.ErrCacheMiss) {
			continue
		}
		if err != nil {
			e.l.Warn("price snapshot unreadable",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
			continue
		}
		if !finite(snap.Price) || snap.Price <= 0 {
			continue
		}
		e.mu.Lock()
		e.feeds[symbol].last = snap.Price
		e.feeds[symbol].seq = snap.Seq
		e.mu.Unlock()
		restored++
	}
	e.l.Info("price snapshots restored", applogger.Int("symbols", restored))
}

// snapshotLoop keeps the latest tick per symbol and flushes them
// periodically and once more on exit.
func (e *PriceEngine) snapshotLoop(ctx context.Context, ch <-chan models.Tick) {
	pending := make(map[string]models.Tick)
	ticker := time.NewTicker(e.snapshotInterval)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		for symbol, t := range pending {
			snap := priceSnapshot{Price: t.Price, Seq: t.Seq, Time: t.Time}
			if err := e.cache.Set(ctx, cache.GenerateKey("price", symbol), snap, e.snapshotTTL); err != nil {
				e.metrics.RecordError("price_snapshot")
				e.l.Warn("price snapshot failed",
					applogger.String("symbol", symbol),
					applogger.Error(err),
				)
				continue
			}
			delete(pending, symbol)
		}
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case t, ok := <-ch:
					if !ok {
						break drain
					}
					pending[t.Symbol] = t
				default:
					break drain
				}
			}
			final, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			flush(final)
			cancel()
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			pending[t.Symbol] = t
		case <-ticker.C:
			flush(ctx)
		}
	}
}
