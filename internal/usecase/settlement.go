package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	applogger "OTCDesk/pkg/logger"
	"OTCDesk/pkg/util"

	"github.com/google/uuid"
)

// OutcomeResolver decides and applies the outcome of one trade.
type OutcomeResolver interface {
	ResolveOutcome(ctx context.Context, trade models.Trade, marketExit float64, at time.Time, apply ApplyFunc) (models.Settlement, error)
}

// PriceSource returns the current published price of a symbol.
type PriceSource interface {
	GetPublishedPrice(ctx context.Context, symbol string) (float64, error)
}

// SettlementEngine closes expired trades against the published stream.
type SettlementEngine struct {
	trades   domrepo.TradeRepository
	resolver OutcomeResolver
	dist     *TickDistributor
	prices   PriceSource
	locker   domrepo.Locker
	events   domrepo.EventPublisher
	clock    util.Clock
	metrics  domrepo.Metrics
	l        *applogger.Logger

	lockTTL       time.Duration
	sweepInterval time.Duration
	locks         *KeyedMutex

	evMu     sync.RWMutex
	evClosed bool
	eventCh  chan models.SettlementEvent

	cancel context.CancelFunc
	loopWg sync.WaitGroup
	evWg   sync.WaitGroup
}

type SettlementOption func(*SettlementEngine)

// WithLocker adds a cross-process lock around each settlement.
func WithLocker(l domrepo.Locker, ttl time.Duration) SettlementOption {
	return func(e *SettlementEngine) {
		e.locker = l
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithEvents delivers a SettlementEvent per settled trade.
func WithEvents(p domrepo.EventPublisher, buffer int) SettlementOption {
	return func(e *SettlementEngine) {
		e.events = p
		if buffer > 0 {
			e.eventCh = make(chan models.SettlementEvent, buffer)
		}
	}
}

func WithSweepInterval(d time.Duration) SettlementOption {
	return func(e *SettlementEngine) {
		if d > 0 {
			e.sweepInterval = d
		}
	}
}

func NewSettlementEngine(trades domrepo.TradeRepository, resolver OutcomeResolver, dist *TickDistributor, prices PriceSource, clock util.Clock, metrics domrepo.Metrics, l *applogger.Logger, opts ...SettlementOption) *SettlementEngine {
	e := &SettlementEngine{
		trades:        trades,
		resolver:      resolver,
		dist:          dist,
		prices:        prices,
		clock:         clock,
		metrics:       metrics,
		l:             l,
		lockTTL:       10 * time.Second,
		sweepInterval: 5 * time.Second,
		locks:         NewKeyedMutex(),
		eventCh:       make(chan models.SettlementEvent, 1024),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start consumes ticks and sweeps overdue trades until Stop.
func (e *SettlementEngine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	ticks, unsubscribe := e.dist.Subscribe("settlement", 4096)
	e.loopWg.Add(1)
	go func() {
		defer e.loopWg.Done()
		defer unsubscribe()
		sweep := time.NewTicker(e.sweepInterval)
		defer sweep.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case t, ok := <-ticks:
				if !ok {
					return
				}
				e.OnTick(runCtx, t)
			case <-sweep.C:
				e.Sweep(runCtx)
			}
		}
	}()

	if e.events != nil {
		e.evWg.Add(1)
		go e.eventLoop()
	}
	e.l.Info("settlement engine started", applogger.Duration("sweep_interval", e.sweepInterval))
}

// Stop ends the loops and drains queued events.
func (e *SettlementEngine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.loopWg.Wait()

	e.evMu.Lock()
	if !e.evClosed {
		e.evClosed = true
		close(e.eventCh)
	}
	e.evMu.Unlock()
	e.evWg.Wait()
	e.l.Info("settlement engine stopped")
}

// OnTick settles trades of the tick's symbol that expired at or before it.
func (e *SettlementEngine) OnTick(ctx context.Context, t models.Tick) {
	due, err := e.trades.ListDue(ctx, t.Symbol, t.Time)
	if err != nil {
		e.metrics.RecordError("settlement_list")
		e.l.Error("list due trades", applogger.String("symbol", t.Symbol), applogger.Error(err))
		return
	}
	for _, trade := range due {
		e.settleLogged(ctx, trade.ID, t.Price, t.Time)
	}
}

// Sweep settles trades left overdue for a full interval, which happens when
// their symbol stopped ticking. They close at the current published price.
func (e *SettlementEngine) Sweep(ctx context.Context) int {
	now := e.clock.Now()
	due, err := e.trades.ListDue(ctx, "", now.Add(-e.sweepInterval))
	if err != nil {
		e.metrics.RecordError("settlement_list")
		e.l.Error("sweep due trades", applogger.Error(err))
		return 0
	}
	settled := 0
	for _, trade := range due {
		price, err := e.prices.GetPublishedPrice(ctx, trade.Symbol)
		if err != nil {
			e.l.Warn("no price for overdue trade",
				applogger.String("trade_id", trade.ID),
				applogger.String("symbol", trade.Symbol),
				applogger.Error(err),
			)
			continue
		}
		if e.settleLogged(ctx, trade.ID, price, now) {
			settled++
		}
	}
	return settled
}

func (e *SettlementEngine) settleLogged(ctx context.Context, id string, price float64, at time.Time) bool {
	_, err := e.Settle(ctx, id, price, at)
	switch {
	case err == nil:
		return true
	case errors.Is(err, models.ErrConflict):
		e.l.Debug("trade already settling", applogger.String("trade_id", id), applogger.Error(err))
	default:
		e.l.Error("settle trade", applogger.String("trade_id", id), applogger.Error(err))
	}
	return false
}

// Settle closes one OPEN trade at exitPrice. A trade that is no longer OPEN
// yields ErrConflict and changes nothing.
func (e *SettlementEngine) Settle(ctx context.Context, tradeID string, exitPrice float64, at time.Time) (models.Settlement, error) {
	start := time.Now()
	unlock := e.locks.Lock(tradeID)
	defer unlock()

	if e.locker != nil {
		key := "settle:" + tradeID
		ok, err := e.locker.TryLock(ctx, key, e.lockTTL)
		if err != nil {
			e.metrics.RecordError("settlement_lock")
			return models.Settlement{}, models.PersistenceError("acquire settlement lock", err)
		}
		if !ok {
			return models.Settlement{}, models.ConflictErrorf("trade %s is being settled elsewhere", tradeID)
		}
		defer func() {
			if err := e.locker.Unlock(context.Background(), key); err != nil {
				e.l.Warn("release settlement lock", applogger.String("trade_id", tradeID), applogger.Error(err))
			}
		}()
	}

	trade, err := e.trades.Get(ctx, tradeID)
	if err != nil {
		return models.Settlement{}, lookupError("load trade", err)
	}
	if trade.Status != models.TradeOpen {
		return models.Settlement{}, models.ConflictErrorf("trade %s is %s", tradeID, trade.Status)
	}

	st, err := e.resolver.ResolveOutcome(ctx, trade, exitPrice, at, e.trades.ApplySettlement)
	if err != nil {
		if !errors.Is(err, models.ErrConflict) {
			e.metrics.RecordError("settlement")
		}
		return models.Settlement{}, err
	}

	e.metrics.RecordSettlement(trade.Symbol, string(st.Status), string(st.Source))
	e.metrics.RecordLatency("settle", time.Since(start).Seconds())
	e.l.Info("trade settled",
		applogger.String("trade_id", trade.ID),
		applogger.String("user_id", trade.UserID),
		applogger.String("symbol", trade.Symbol),
		applogger.String("status", string(st.Status)),
		applogger.String("source", string(st.Source)),
		applogger.Float64("exit", st.ExitPrice),
		applogger.Float64("market_exit", st.MarketExitPrice),
	)
	e.emit(trade, st)
	return st, nil
}

func (e *SettlementEngine) emit(trade models.Trade, st models.Settlement) {
	if e.events == nil {
		return
	}
	ev := models.SettlementEvent{
		EventID:   uuid.NewString(),
		TradeID:   trade.ID,
		UserID:    trade.UserID,
		Symbol:    trade.Symbol,
		Direction: trade.Direction,
		Amount:    trade.Amount,
		Status:    st.Status,
		Entry:     trade.EntryPrice,
		Exit:      st.ExitPrice,
		Payout:    st.Payout,
		SettledAt: st.SettledAt,
	}

	e.evMu.RLock()
	defer e.evMu.RUnlock()
	if e.evClosed {
		return
	}
	select {
	case e.eventCh <- ev:
	default:
		e.metrics.RecordError("settlement_event_dropped")
		e.l.Warn("settlement event queue full", applogger.String("trade_id", trade.ID))
	}
}

func (e *SettlementEngine) eventLoop() {
	defer e.evWg.Done()
	for ev := range e.eventCh {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.events.PublishSettlement(ctx, ev); err != nil {
			e.metrics.RecordError("settlement_event")
			e.l.Error("publish settlement event",
				applogger.String("trade_id", ev.TradeID),
				applogger.Error(err),
			)
		} else {
			e.metrics.RecordMessageSent("settlement", ev.Symbol)
		}
		cancel()
	}
}
