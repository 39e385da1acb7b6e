package usecase

import (
	"context"
	"testing"
	"time"

	"OTCDesk/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForceTradeOutcome(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedTrade(t, "t-1", "u1", models.DirectionUp, 1.085, t0.Add(time.Minute))

	assert.ErrorIs(t, e.svc.ForceTradeOutcome(ctx, "t-1", models.OutcomePush, admin(0)), models.ErrValidation)
	assert.ErrorIs(t, e.svc.ForceTradeOutcome(ctx, "nope", models.OutcomeWin, admin(0)), models.ErrNotFound)

	require.NoError(t, e.svc.ForceTradeOutcome(ctx, "t-1", models.OutcomeLose, admin(0)))
	require.NoError(t, e.svc.ForceTradeOutcome(ctx, "t-1", models.OutcomeWin, admin(0)))

	o, ok := e.svc.PeekForcedOutcome("t-1")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeWin, o)

	open, err := e.svc.ListOpenTrades(ctx, eurusd)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.NotNil(t, open[0].ForcedOutcome)
	assert.Equal(t, models.OutcomeWin, *open[0].ForcedOutcome)

	o, ok = e.svc.GetForcedOutcome("t-1")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeWin, o)
	_, ok = e.svc.GetForcedOutcome("t-1")
	assert.False(t, ok)

	rows := e.auditRows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, models.ActionTradeForce, rows[0].ActionType)
	assert.Equal(t, models.TargetTrade, rows[0].TargetType)
	assert.JSONEq(t, `{"outcome":"LOSE"}`, string(rows[0].PreviousValue))
	assert.JSONEq(t, `{"outcome":"WIN"}`, string(rows[0].NewValue))
}

func TestForceSettledTradeConflicts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "0")
	tr := e.seedTrade(t, "t-1", "u1", models.DirectionUp, 1.085, t0)

	_, err := e.svc.ResolveOutcome(ctx, tr, 1.086, t0, e.trades.ApplySettlement)
	require.NoError(t, err)

	assert.ErrorIs(t, e.svc.ForceTradeOutcome(ctx, "t-1", models.OutcomeLose, admin(0)), models.ErrConflict)
	assert.Empty(t, e.auditRows(t))
}

func TestUserTargetingPatchAndFallback(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "1000")

	_, err := e.svc.SetUserTargeting(ctx, "u1", "", models.TargetingPatch{}, admin(0))
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = e.svc.SetUserTargeting(ctx, "u1", "", models.TargetingPatch{TargetWinRate: floatp(1.2)}, admin(0))
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = e.svc.SetUserTargeting(ctx, "u1", "", models.TargetingPatch{ForceNextLose: intp(-1)}, admin(0))
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = e.svc.SetUserTargeting(ctx, "", "", models.TargetingPatch{ForceNextLose: intp(1)}, admin(0))
	assert.ErrorIs(t, err, models.ErrValidation)

	all, err := e.svc.SetUserTargeting(ctx, "u1", "", models.TargetingPatch{TargetWinRate: floatp(0.2)}, admin(0))
	require.NoError(t, err)
	assert.Equal(t, models.AllSymbols, all.Symbol)

	// patching keeps untouched fields
	all, err = e.svc.SetUserTargeting(ctx, "u1", models.AllSymbols, models.TargetingPatch{ForceNextLose: intp(2)}, admin(0))
	require.NoError(t, err)
	require.NotNil(t, all.TargetWinRate)
	assert.Equal(t, 0.2, *all.TargetWinRate)
	assert.Equal(t, 2, all.ForceNextLose)

	_, err = e.svc.SetUserTargeting(ctx, "u1", eurusd, models.TargetingPatch{ForceNextWin: intp(1)}, admin(0))
	require.NoError(t, err)

	got, ok := e.svc.GetUserTargeting("u1", eurusd)
	require.True(t, ok)
	assert.Equal(t, eurusd, got.Symbol)
	got, ok = e.svc.GetUserTargeting("u1", "BTCUSD-OTC")
	require.True(t, ok)
	assert.Equal(t, models.AllSymbols, got.Symbol)
	assert.Len(t, e.svc.ListUserTargets(), 2)

	require.NoError(t, e.svc.RemoveUserTargeting(ctx, "u1", eurusd, admin(0)))
	assert.ErrorIs(t, e.svc.RemoveUserTargeting(ctx, "u1", eurusd, admin(0)), models.ErrNotFound)
	got, ok = e.svc.GetUserTargeting("u1", eurusd)
	require.True(t, ok)
	assert.Equal(t, models.AllSymbols, got.Symbol)

	// a disabled record starts over when re-enabled
	again, err := e.svc.SetUserTargeting(ctx, "u1", eurusd, models.TargetingPatch{ForceNextLose: intp(1)}, admin(0))
	require.NoError(t, err)
	assert.Zero(t, again.ForceNextWin)

	rows := e.auditRows(t)
	require.Len(t, rows, 5)
	for _, r := range rows {
		assert.Equal(t, models.ActionUserTarget, r.ActionType)
		assert.Equal(t, "u1", r.TargetID)
	}
}

func TestDecrementCounters(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "1000")

	assert.ErrorIs(t, e.svc.DecrementForceNextWin(ctx, "u1", ""), models.ErrNotFound)

	_, err := e.svc.SetUserTargeting(ctx, "u1", "", models.TargetingPatch{ForceNextWin: intp(1), ForceNextLose: intp(1)}, admin(0))
	require.NoError(t, err)

	require.NoError(t, e.svc.DecrementForceNextWin(ctx, "u1", ""))
	assert.ErrorIs(t, e.svc.DecrementForceNextWin(ctx, "u1", ""), models.ErrCounterDrained)
	require.NoError(t, e.svc.DecrementForceNextLose(ctx, "u1", models.AllSymbols))

	got, ok := e.svc.GetUserTargeting("u1", eurusd)
	require.True(t, ok)
	assert.Zero(t, got.ForceNextWin)
	assert.Zero(t, got.ForceNextLose)
}

func TestResolveOutcomePriority(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "0")

	_, err := e.svc.SetUserTargeting(ctx, "u1", "", models.TargetingPatch{
		ForceNextWin: intp(1), ForceNextLose: intp(1), TargetWinRate: floatp(0.5),
	}, admin(0))
	require.NoError(t, err)

	// market says LOSE for every trade below: UP entry 1.085, exit 1.084
	settle := func(id string) models.Settlement {
		tr := e.seedTrade(t, id, "u1", models.DirectionUp, 1.085, t0)
		st, err := e.svc.ResolveOutcome(ctx, tr, 1.084, t0, e.trades.ApplySettlement)
		require.NoError(t, err)
		return st
	}

	require.NoError(t, func() error {
		e.seedTrade(t, "forced", "u1", models.DirectionUp, 1.085, t0)
		return e.svc.ForceTradeOutcome(ctx, "forced", models.OutcomeWin, admin(0))
	}())
	tr, err := e.trades.Get(ctx, "forced")
	require.NoError(t, err)
	st, err := e.svc.ResolveOutcome(ctx, tr, 1.084, t0, e.trades.ApplySettlement)
	require.NoError(t, err)
	assert.Equal(t, models.SourceForcedTrade, st.Source)
	assert.Equal(t, models.TradeWon, st.Status)
	_, pending := e.svc.PeekForcedOutcome("forced")
	assert.False(t, pending)

	st = settle("t-win")
	assert.Equal(t, models.SourceForceNextWin, st.Source)
	assert.Equal(t, models.TradeWon, st.Status)
	assert.Greater(t, st.ExitPrice, 1.085)
	assert.Equal(t, 1.084, st.MarketExitPrice)

	st = settle("t-lose")
	assert.Equal(t, models.SourceForceNextLose, st.Source)
	assert.Equal(t, models.TradeLost, st.Status)
	assert.Equal(t, 1.084, st.ExitPrice)

	e.rng.set(0.3)
	st = settle("t-rate-win")
	assert.Equal(t, models.SourceWinRate, st.Source)
	assert.Equal(t, models.TradeWon, st.Status)

	e.rng.set(0.7)
	st = settle("t-rate-miss")
	assert.Equal(t, models.SourceMarket, st.Source)
	assert.Equal(t, models.TradeLost, st.Status)

	got, ok := e.svc.GetUserTargeting("u1", eurusd)
	require.True(t, ok)
	assert.Zero(t, got.ForceNextWin)
	assert.Zero(t, got.ForceNextLose)

	active, err := e.controls.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Zero(t, active[0].ForceNextWin)
	assert.Zero(t, active[0].ForceNextLose)
}

func TestResolveOutcomeSymbolRecordBeatsAll(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "0")

	_, err := e.svc.SetUserTargeting(ctx, "u1", "", models.TargetingPatch{ForceNextLose: intp(3)}, admin(0))
	require.NoError(t, err)
	_, err = e.svc.SetUserTargeting(ctx, "u1", eurusd, models.TargetingPatch{TargetWinRate: floatp(1)}, admin(0))
	require.NoError(t, err)

	tr := e.seedTrade(t, "t-1", "u1", models.DirectionDown, 1.085, t0)
	st, err := e.svc.ResolveOutcome(ctx, tr, 1.086, t0, e.trades.ApplySettlement)
	require.NoError(t, err)
	assert.Equal(t, models.SourceWinRate, st.Source)
	assert.Equal(t, models.TradeWon, st.Status)
	assert.Less(t, st.ExitPrice, 1.085)

	targets := e.svc.ListUserTargets()
	require.Len(t, targets, 2)
	assert.Equal(t, models.AllSymbols, targets[0].Symbol)
	assert.Equal(t, 3, targets[0].ForceNextLose)
}

func TestResolveOutcomeRetriesStaleCounter(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "0")

	_, err := e.svc.SetUserTargeting(ctx, "u1", "", models.TargetingPatch{ForceNextWin: intp(1)}, admin(0))
	require.NoError(t, err)
	// another process consumed the counter behind our back
	require.NoError(t, e.controls.DecrementCounter(ctx, models.NewTargetKey("u1", ""), models.CounterWin))

	tr := e.seedTrade(t, "t-1", "u1", models.DirectionUp, 1.085, t0)
	st, err := e.svc.ResolveOutcome(ctx, tr, 1.084, t0, e.trades.ApplySettlement)
	require.NoError(t, err)
	assert.Equal(t, models.SourceMarket, st.Source)
	assert.Equal(t, models.TradeLost, st.Status)

	got, ok := e.svc.GetUserTargeting("u1", eurusd)
	require.True(t, ok)
	assert.Zero(t, got.ForceNextWin)
}

func TestResolveOutcomeKeepsForceWhenApplyFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tr := e.seedTrade(t, "t-1", "u1", models.DirectionUp, 1.085, t0)
	require.NoError(t, e.svc.ForceTradeOutcome(ctx, "t-1", models.OutcomeLose, admin(0)))

	failing := func(context.Context, models.Settlement) error { return models.PersistenceError("apply", assert.AnError) }
	_, err := e.svc.ResolveOutcome(ctx, tr, 1.09, t0, failing)
	require.ErrorIs(t, err, models.ErrPersistence)

	o, ok := e.svc.PeekForcedOutcome("t-1")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeLose, o)
}
