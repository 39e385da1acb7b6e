package usecase

import (
	"context"
	"math"
	"testing"
	"time"

	"OTCDesk/internal/domain/models"
	"OTCDesk/pkg/cache"
	applogger "OTCDesk/pkg/logger"
	"OTCDesk/pkg/metrics"
	"OTCDesk/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type neutralControls struct{}

func (neutralControls) ControlState(context.Context, string) models.ControlState {
	return models.NeutralState()
}

var engineParams = []SymbolParams{
	{Symbol: eurusd, BasePrice: 1.085, Volatility: 0.0002, TickSize: 0.00001, MeanReversion: 0.001},
	{Symbol: "BTCUSD-OTC", BasePrice: 64000, Volatility: 0.0008, TickSize: 0.01},
}

func newEngine(controls ControlSource, dist *TickDistributor, opts ...PriceEngineOption) *PriceEngine {
	return NewPriceEngine(engineParams, 7, controls, dist, util.NewManualClock(t0), metrics.Nop{}, applogger.NewNop(), opts...)
}

func TestGeneratorIsReproducible(t *testing.T) {
	a := NewPriceGenerator(engineParams[0], 42)
	b := NewPriceGenerator(engineParams[0], 42)
	other := NewPriceGenerator(engineParams[1], 42)

	pa, pb := 1.085, 1.085
	for i := 0; i < 50; i++ {
		na, nb := a.Next(pa, t0), b.Next(pb, t0)
		require.Equal(t, na, nb)
		assert.Greater(t, na.Price, 0.0)
		pa, pb = na.Price, nb.Price
	}
	assert.NotEqual(t, a.Next(1.085, t0).Step, other.Next(1.085, t0).Step)
}

func TestEngineStepPublishesEverySymbol(t *testing.T) {
	ctx := context.Background()
	dist := NewTickDistributor(10, metrics.Nop{})
	eng := newEngine(neutralControls{}, dist)

	eng.Step(ctx, t0)
	eng.Step(ctx, t0.Add(time.Second))

	for _, sym := range eng.Symbols() {
		h := dist.History(sym, 0)
		require.Len(t, h, 2, sym)
		assert.Equal(t, uint64(1), h[0].Seq)
		assert.Equal(t, uint64(2), h[1].Seq)

		p, err := eng.GetPublishedPrice(ctx, sym)
		require.NoError(t, err)
		assert.Equal(t, h[1].Price, p)
	}

	_, err := eng.GetPublishedPrice(ctx, "DOGEUSD-OTC")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, eng.HasSymbol("DOGEUSD-OTC"))
}

func TestEngineAppliesControls(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	dist := NewTickDistributor(100, metrics.Nop{})
	eng := newEngine(e.svc, dist)

	_, err := e.svc.SetDirectionBias(ctx, eurusd, 1, 1, admin(time.Hour))
	require.NoError(t, err)

	prev := 1.085
	for i := 0; i < 20; i++ {
		eng.Step(ctx, t0.Add(time.Duration(i)*time.Second))
		last, ok := dist.Last(eurusd)
		require.True(t, ok)
		assert.GreaterOrEqual(t, last.Price, prev)
		prev = last.Price
	}
	assert.Greater(t, prev, 1.085)

	_, err = e.svc.SetPriceOverride(ctx, eurusd, 1.2, admin(time.Minute))
	require.NoError(t, err)
	eng.Step(ctx, t0.Add(time.Minute))
	last, _ := dist.Last(eurusd)
	assert.Equal(t, 1.2, last.Price)
	p, err := eng.GetPublishedPrice(ctx, eurusd)
	require.NoError(t, err)
	assert.Equal(t, 1.2, p)

	// once the override lapses the walk continues from where it was pinned
	e.clock.Advance(time.Minute)
	_, err = e.svc.ClearDirectionBias(ctx, eurusd, admin(0))
	require.NoError(t, err)
	eng.Step(ctx, t0.Add(2*time.Minute))
	last, _ = dist.Last(eurusd)
	assert.InDelta(t, 1.2, last.Price, 0.01)
}

func TestEngineRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	defer c.Close()

	require.NoError(t, c.Set(ctx, cache.GenerateKey("price", eurusd), priceSnapshot{Price: 1.1, Seq: 41, Time: t0}, time.Hour))

	dist := NewTickDistributor(10, metrics.Nop{})
	eng := newEngine(neutralControls{}, dist, WithTickInterval(time.Hour), WithSnapshots(c, time.Hour, time.Hour))
	eng.Start(ctx)
	defer eng.Stop()

	p, err := eng.GetPublishedPrice(ctx, eurusd)
	require.NoError(t, err)
	assert.Equal(t, 1.1, p)

	p, err = eng.GetPublishedPrice(ctx, "BTCUSD-OTC")
	require.NoError(t, err)
	assert.Equal(t, 64000.0, p)

	eng.Step(ctx, t0)
	last, ok := dist.Last(eurusd)
	require.True(t, ok)
	assert.Equal(t, uint64(42), last.Seq)
}

func TestEngineFlushesSnapshotOnStop(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	defer c.Close()

	dist := NewTickDistributor(10, metrics.Nop{})
	eng := newEngine(neutralControls{}, dist, WithTickInterval(time.Hour), WithSnapshots(c, time.Hour, time.Hour))
	eng.Start(ctx)
	eng.Step(ctx, t0)
	last, _ := dist.Last(eurusd)

	eng.Stop()

	var snap priceSnapshot
	require.NoError(t, c.Get(ctx, cache.GenerateKey("price", eurusd), &snap))
	assert.Equal(t, last.Price, snap.Price)
	assert.Equal(t, uint64(1), snap.Seq)
}

type stateControls struct{ s models.ControlState }

func (c stateControls) ControlState(context.Context, string) models.ControlState { return c.s }

func TestEngineStaysFiniteUnderExtremeBias(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	dist := NewTickDistributor(100, metrics.Nop{})
	eng := newEngine(e.svc, dist)

	_, err := e.svc.SetDirectionBias(ctx, eurusd, 1, 1e6, admin(time.Hour))
	require.NoError(t, err)

	prev := 1.085
	for i := 0; i < 200; i++ {
		eng.Step(ctx, t0.Add(time.Duration(i)*time.Second))
		last, ok := dist.Last(eurusd)
		require.True(t, ok)
		require.False(t, math.IsInf(last.Price, 0) || math.IsNaN(last.Price), "step %d", i)
		require.LessOrEqual(t, last.Price, prev*math.Exp(0.5)+0.00001, "step %d", i)
		prev = last.Price
	}

	// clearing the bias hands the walk back to the generator
	_, err = e.svc.ClearDirectionBias(ctx, eurusd, admin(0))
	require.NoError(t, err)
	eng.Step(ctx, t0.Add(time.Hour))
	last, _ := dist.Last(eurusd)
	assert.InDelta(t, prev, last.Price, prev*0.01)
}

func TestEngineRejectsUnpublishablePrice(t *testing.T) {
	ctx := context.Background()
	dist := NewTickDistributor(10, metrics.Nop{})
	inf := math.Inf(1)
	eng := newEngine(stateControls{models.ControlState{Override: &inf, Multiplier: 1}}, dist)

	eng.Step(ctx, t0)
	_, ok := dist.Last(eurusd)
	assert.False(t, ok)

	// the override does not leak into the stored walk either
	eng.controls = neutralControls{}
	eng.Step(ctx, t0.Add(time.Second))
	last, ok := dist.Last(eurusd)
	require.True(t, ok)
	assert.Equal(t, uint64(1), last.Seq)
	assert.InDelta(t, 1.085, last.Price, 0.01)
}
