package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"OTCDesk/internal/domain/models"
	"OTCDesk/pkg/cache"
	applogger "OTCDesk/pkg/logger"
	"OTCDesk/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPrices map[string]float64

func (p staticPrices) GetPublishedPrice(_ context.Context, symbol string) (float64, error) {
	v, ok := p[symbol]
	if !ok {
		return 0, models.NotFoundErrorf("unknown symbol %s", symbol)
	}
	return v, nil
}

type captureEvents struct {
	mu     sync.Mutex
	events []models.SettlementEvent
}

func (c *captureEvents) PublishSettlement(_ context.Context, ev models.SettlementEvent) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *captureEvents) all() []models.SettlementEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.SettlementEvent(nil), c.events...)
}

func newSettlement(e *env, prices PriceSource, opts ...SettlementOption) *SettlementEngine {
	return NewSettlementEngine(e.trades, e.svc, NewTickDistributor(16, metrics.Nop{}), prices, e.clock, metrics.Nop{}, applogger.NewNop(), opts...)
}

func TestSettleOnTickPaysWinner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "900")
	e.seedTrade(t, "t-1", "u1", models.DirectionUp, 1.085, t0.Add(time.Minute))
	e.seedTrade(t, "t-later", "u1", models.DirectionUp, 1.085, t0.Add(time.Hour))

	events := &captureEvents{}
	se := newSettlement(e, staticPrices{eurusd: 1.0851}, WithEvents(events, 8))
	se.Start(ctx)

	se.OnTick(ctx, models.Tick{Symbol: eurusd, Price: 1.0851, Time: t0.Add(time.Minute)})
	se.Stop()

	got, err := e.trades.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TradeWon, got.Status)
	assert.Equal(t, models.SourceMarket, got.OutcomeSource)
	assert.True(t, got.Payout.Equal(decimal.RequireFromString("185")))

	later, err := e.trades.Get(ctx, "t-later")
	require.NoError(t, err)
	assert.Equal(t, models.TradeOpen, later.Status)

	u, err := e.trades.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.RequireFromString("1085")), u.Balance.String())

	evs := events.all()
	require.Len(t, evs, 1)
	assert.Equal(t, "t-1", evs[0].TradeID)
	assert.Equal(t, models.TradeWon, evs[0].Status)
	assert.NotEmpty(t, evs[0].EventID)
}

func TestSettlePushRefundsStake(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "900")
	e.seedTrade(t, "t-1", "u1", models.DirectionDown, 1.085, t0)

	st, err := newSettlement(e, nil).Settle(ctx, "t-1", 1.085, t0)
	require.NoError(t, err)
	assert.Equal(t, models.TradePush, st.Status)
	assert.True(t, st.Payout.Equal(decimal.RequireFromString("100")))

	u, err := e.trades.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.RequireFromString("1000")), u.Balance.String())
}

func TestSettleTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "0")
	e.seedTrade(t, "t-1", "u1", models.DirectionUp, 1.085, t0)
	se := newSettlement(e, nil)

	_, err := se.Settle(ctx, "t-1", 1.084, t0)
	require.NoError(t, err)
	_, err = se.Settle(ctx, "t-1", 1.09, t0)
	assert.ErrorIs(t, err, models.ErrConflict)
	_, err = se.Settle(ctx, "missing", 1.09, t0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestConcurrentSettlementIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "0")
	e.seedTrade(t, "t-1", "u1", models.DirectionUp, 1.085, t0)
	_, err := e.svc.SetUserTargeting(ctx, "u1", "", models.TargetingPatch{ForceNextWin: intp(1)}, admin(0))
	require.NoError(t, err)

	// engines share the lock store the way replicas share Redis
	locks := cache.NewMemoryCache()
	defer locks.Close()
	engines := []*SettlementEngine{
		newSettlement(e, nil, WithLocker(locks, time.Minute)),
		newSettlement(e, nil, WithLocker(locks, time.Minute)),
		newSettlement(e, nil),
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(se *SettlementEngine) {
			defer wg.Done()
			if _, err := se.Settle(ctx, "t-1", 1.084, t0); err == nil {
				mu.Lock()
				settled++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, models.ErrConflict)
			}
		}(engines[i%len(engines)])
	}
	wg.Wait()
	assert.Equal(t, 1, settled)

	u, err := e.trades.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.RequireFromString("185")), u.Balance.String())

	active, err := e.controls.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Zero(t, active[0].ForceNextWin)
}

func TestSweepSettlesOverdueAtPublishedPrice(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "0")
	e.seedTrade(t, "t-old", "u1", models.DirectionDown, 1.085, t0.Add(-time.Minute))
	e.seedTrade(t, "t-fresh", "u1", models.DirectionDown, 1.085, t0.Add(-time.Second))

	se := newSettlement(e, staticPrices{eurusd: 1.0840}, WithSweepInterval(5*time.Second))
	assert.Equal(t, 1, se.Sweep(ctx))

	old, err := e.trades.Get(ctx, "t-old")
	require.NoError(t, err)
	assert.Equal(t, models.TradeWon, old.Status)
	require.NotNil(t, old.MarketExitPrice)
	assert.Equal(t, 1.0840, *old.MarketExitPrice)

	fresh, err := e.trades.Get(ctx, "t-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.TradeOpen, fresh.Status)
}

// An admin biases EURUSD-OTC for five minutes; the bias reads back at once,
// is gone after the window, and leaves exactly one audit row.
func TestDirectionBiasWindowEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.svc.SetDirectionBias(ctx, "EURUSD-OTC", 0.8, 1.0, admin(5*time.Minute))
	require.NoError(t, err)

	bias, strength := e.svc.GetDirectionBias(ctx, "EURUSD-OTC")
	assert.Equal(t, 0.8, bias)
	assert.Equal(t, 1.0, strength)

	e.clock.Advance(5 * time.Minute)
	bias, strength = e.svc.GetDirectionBias(ctx, "EURUSD-OTC")
	assert.Zero(t, bias)
	assert.Zero(t, strength)

	rows := e.auditRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ActionPriceBias, rows[0].ActionType)
	assert.JSONEq(t, "null", string(rows[0].PreviousValue))
}

func TestForceNextWinCounterDrainsThenFallsThrough(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "1000")
	_, err := e.svc.SetUserTargeting(ctx, "u1", "", models.TargetingPatch{
		ForceNextWin: intp(2), TargetWinRate: floatp(0.5),
	}, admin(0))
	require.NoError(t, err)

	se := newSettlement(e, nil)
	// every trade below loses at market: UP entry 1.085, exit 1.084
	settle := func(id string) models.Settlement {
		e.seedTrade(t, id, "u1", models.DirectionUp, 1.085, t0)
		st, err := se.Settle(ctx, id, 1.084, t0)
		require.NoError(t, err)
		return st
	}
	remaining := func() int {
		got, ok := e.svc.GetUserTargeting("u1", eurusd)
		require.True(t, ok)
		return got.ForceNextWin
	}

	st := settle("t-1")
	assert.Equal(t, models.SourceForceNextWin, st.Source)
	assert.Equal(t, models.TradeWon, st.Status)
	assert.Equal(t, 1, remaining())

	st = settle("t-2")
	assert.Equal(t, models.SourceForceNextWin, st.Source)
	assert.Equal(t, models.TradeWon, st.Status)
	assert.Equal(t, 0, remaining())

	e.rng.set(0.3)
	st = settle("t-3")
	assert.Equal(t, models.SourceWinRate, st.Source)
	assert.Equal(t, models.TradeWon, st.Status)

	e.rng.set(0.7)
	st = settle("t-4")
	assert.Equal(t, models.SourceMarket, st.Source)
	assert.Equal(t, models.TradeLost, st.Status)
	assert.Equal(t, 1.084, st.ExitPrice)

	active, err := e.controls.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Zero(t, active[0].ForceNextWin)
}
