package usecase

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"OTCDesk/internal/domain/models"
	applogger "OTCDesk/pkg/logger"
)

type forceSnapshot struct {
	Outcome models.Outcome `json:"outcome"`
}

// ApplyFunc persists one settlement atomically.
type ApplyFunc func(ctx context.Context, s models.Settlement) error

// --- per-trade forcing ---

// ForceTradeOutcome makes an open trade settle as outcome. The force lives in
// memory only and is consumed by the settlement that uses it.
func (s *ManualControlService) ForceTradeOutcome(ctx context.Context, tradeID string, outcome models.Outcome, m models.Mutation) error {
	if strings.TrimSpace(tradeID) == "" {
		return models.ValidationErrorf("trade_id", "trade_id is required")
	}
	if !outcome.Forcible() {
		return models.ValidationErrorf("outcome", "outcome must be WIN or LOSE")
	}
	if err := validateMutation(m, false); err != nil {
		return err
	}

	unlock := s.tradeLocks.Lock(tradeID)
	defer unlock()

	trade, err := s.trades.Get(ctx, tradeID)
	if err != nil {
		return lookupError("load trade", err)
	}
	if trade.Status != models.TradeOpen {
		return models.ConflictErrorf("trade %s is %s", tradeID, trade.Status)
	}

	s.mu.Lock()
	prev, had := s.forces[tradeID]
	s.forces[tradeID] = outcome
	s.mu.Unlock()

	var prevSnap interface{}
	if had {
		prevSnap = forceSnapshot{Outcome: prev}
	}
	s.audit.Record(ctx, m.AdminID, models.ActionTradeForce, models.TargetTrade, tradeID, prevSnap, forceSnapshot{Outcome: outcome}, m.Reason)
	s.l.Info("trade outcome forced",
		applogger.String("trade_id", tradeID),
		applogger.String("outcome", string(outcome)),
		applogger.String("admin_id", m.AdminID),
	)
	return nil
}

// GetForcedOutcome returns and consumes the force of tradeID.
func (s *ManualControlService) GetForcedOutcome(tradeID string) (models.Outcome, bool) {
	unlock := s.tradeLocks.Lock(tradeID)
	defer unlock()
	return s.takeForce(tradeID)
}

// PeekForcedOutcome returns the force of tradeID without consuming it.
func (s *ManualControlService) PeekForcedOutcome(tradeID string) (models.Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.forces[tradeID]
	return o, ok
}

func (s *ManualControlService) takeForce(tradeID string) (models.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.forces[tradeID]
	delete(s.forces, tradeID)
	return o, ok
}

// ListOpenTrades returns OPEN trades of symbol (all when empty) with their
// pending force.
func (s *ManualControlService) ListOpenTrades(ctx context.Context, symbol string) ([]models.OpenTradeView, error) {
	trades, err := s.trades.ListOpen(ctx, symbol)
	if err != nil {
		return nil, models.PersistenceError("list open trades", err)
	}
	out := make([]models.OpenTradeView, 0, len(trades))
	for _, t := range trades {
		v := models.OpenTradeView{Trade: t}
		if o, ok := s.PeekForcedOutcome(t.ID); ok {
			v.ForcedOutcome = &o
		}
		out = append(out, v)
	}
	return out, nil
}

// --- user targeting ---

// SetUserTargeting patches the targeting record of (userID, symbol). An empty
// symbol targets every symbol.
func (s *ManualControlService) SetUserTargeting(ctx context.Context, userID, symbol string, p models.TargetingPatch, m models.Mutation) (models.UserTargeting, error) {
	key, err := s.targetKey(userID, symbol)
	if err != nil {
		return models.UserTargeting{}, err
	}
	if p.Empty() {
		return models.UserTargeting{}, models.ValidationErrorf("patch", "nothing to change")
	}
	if p.TargetWinRate != nil {
		r := *p.TargetWinRate
		if !finite(r) || r < 0 || r > 1 {
			return models.UserTargeting{}, models.ValidationErrorf("target_win_rate", "target_win_rate must be within [0, 1]")
		}
	}
	if p.ForceNextWin != nil && *p.ForceNextWin < 0 {
		return models.UserTargeting{}, models.ValidationErrorf("force_next_win", "force_next_win cannot be negative")
	}
	if p.ForceNextLose != nil && *p.ForceNextLose < 0 {
		return models.UserTargeting{}, models.ValidationErrorf("force_next_lose", "force_next_lose cannot be negative")
	}
	if err := validateMutation(m, false); err != nil {
		return models.UserTargeting{}, err
	}
	if _, err := s.users.GetUser(ctx, key.UserID); err != nil {
		return models.UserTargeting{}, lookupError("load user", err)
	}

	unlock := s.userLocks.Lock(key.UserID)
	defer unlock()

	s.mu.RLock()
	cur, existed := s.targeting[key]
	s.mu.RUnlock()
	existed = existed && cur.IsActive

	base := models.UserTargeting{UserID: key.UserID, Symbol: key.Symbol}
	if existed {
		base = cur.Clone()
	}
	next := p.Apply(base)
	next.IsActive = true
	next.UpdatedAt = s.clock.Now()
	next.UpdatedBy = m.AdminID

	if err := s.targets.UpsertTargeting(ctx, next); err != nil {
		s.metrics.RecordError("targeting_persist")
		return models.UserTargeting{}, models.PersistenceError("persist targeting", err)
	}
	s.storeTargeting(next)

	var prev interface{}
	if existed {
		prev = cur
	}
	s.audit.Record(ctx, m.AdminID, models.ActionUserTarget, models.TargetUser, key.UserID, prev, next, m.Reason)
	s.l.Info("user targeting set",
		applogger.String("user_id", key.UserID),
		applogger.String("symbol", key.Symbol),
		applogger.String("admin_id", m.AdminID),
	)
	return next.Clone(), nil
}

// RemoveUserTargeting disables the active record of (userID, symbol).
func (s *ManualControlService) RemoveUserTargeting(ctx context.Context, userID, symbol string, m models.Mutation) error {
	key, err := s.targetKey(userID, symbol)
	if err != nil {
		return err
	}
	if err := validateMutation(m, false); err != nil {
		return err
	}

	unlock := s.userLocks.Lock(key.UserID)
	defer unlock()

	s.mu.RLock()
	cur, ok := s.targeting[key]
	s.mu.RUnlock()
	if !ok || !cur.IsActive {
		return models.NotFoundErrorf("no active targeting for user %s on %s", key.UserID, key.Symbol)
	}

	next := cur.Clone()
	next.IsActive = false
	next.UpdatedAt = s.clock.Now()
	next.UpdatedBy = m.AdminID
	if err := s.targets.UpsertTargeting(ctx, next); err != nil {
		s.metrics.RecordError("targeting_persist")
		return models.PersistenceError("disable targeting", err)
	}
	s.storeTargeting(next)

	s.audit.Record(ctx, m.AdminID, models.ActionUserTarget, models.TargetUser, key.UserID, cur, next, m.Reason)
	s.l.Info("user targeting removed",
		applogger.String("user_id", key.UserID),
		applogger.String("symbol", key.Symbol),
		applogger.String("admin_id", m.AdminID),
	)
	return nil
}

// GetUserTargeting returns the record that governs userID on symbol: the
// symbol's own active record, else the all-symbol one.
func (s *ManualControlService) GetUserTargeting(userID, symbol string) (models.UserTargeting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupTargeting(userID, symbol)
}

func (s *ManualControlService) lookupTargeting(userID, symbol string) (models.UserTargeting, bool) {
	if t, ok := s.targeting[models.TargetKey{UserID: userID, Symbol: symbol}]; ok && t.IsActive {
		return t.Clone(), true
	}
	if t, ok := s.targeting[models.TargetKey{UserID: userID, Symbol: models.AllSymbols}]; ok && t.IsActive {
		return t.Clone(), true
	}
	return models.UserTargeting{}, false
}

// ListUserTargets returns every active record ordered by user and symbol.
func (s *ManualControlService) ListUserTargets() []models.UserTargeting {
	s.mu.RLock()
	out := make([]models.UserTargeting, 0, len(s.targeting))
	for _, t := range s.targeting {
		if t.IsActive {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (s *ManualControlService) DecrementForceNextWin(ctx context.Context, userID, symbol string) error {
	return s.decrement(ctx, models.NewTargetKey(userID, symbol), models.CounterWin)
}

func (s *ManualControlService) DecrementForceNextLose(ctx context.Context, userID, symbol string) error {
	return s.decrement(ctx, models.NewTargetKey(userID, symbol), models.CounterLose)
}

func (s *ManualControlService) decrement(ctx context.Context, key models.TargetKey, counter models.CounterKind) error {
	unlock := s.userLocks.Lock(key.UserID)
	defer unlock()

	s.mu.RLock()
	cur, ok := s.targeting[key]
	s.mu.RUnlock()
	if !ok || !cur.IsActive {
		return models.NotFoundErrorf("no active targeting for user %s on %s", key.UserID, key.Symbol)
	}
	if err := s.targets.DecrementCounter(ctx, key, counter); err != nil {
		if errors.Is(err, models.ErrCounterDrained) {
			s.consumeCounter(key, counter, true)
			return err
		}
		return models.PersistenceError("decrement counter", err)
	}
	s.consumeCounter(key, counter, false)
	return nil
}

// consumeCounter takes one unit off the cached counter, or zeroes it when
// storage reported it drained.
func (s *ManualControlService) consumeCounter(key models.TargetKey, counter models.CounterKind, drained bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targeting[key]
	if !ok {
		return
	}
	n := &t.ForceNextWin
	if counter == models.CounterLose {
		n = &t.ForceNextLose
	}
	if drained || *n <= 1 {
		*n = 0
	} else {
		*n--
	}
	s.targeting[key] = t
}

func (s *ManualControlService) storeTargeting(t models.UserTargeting) {
	s.mu.Lock()
	s.targeting[t.Key()] = t.Clone()
	s.mu.Unlock()
}

func (s *ManualControlService) targetKey(userID, symbol string) (models.TargetKey, error) {
	if strings.TrimSpace(userID) == "" {
		return models.TargetKey{}, models.ValidationErrorf("user_id", "user_id is required")
	}
	key := models.NewTargetKey(userID, symbol)
	if key.Symbol != models.AllSymbols {
		if err := s.validateSymbol(key.Symbol); err != nil {
			return models.TargetKey{}, err
		}
	}
	return key, nil
}

// --- settlement-time decision ---

// ResolveOutcome decides how trade settles against the published price
// marketExit and hands the full settlement to apply. Forces and counters are
// consumed in memory only after apply succeeds. The trade and user locks are
// held throughout, so two settlements of one user never read the same counter.
func (s *ManualControlService) ResolveOutcome(ctx context.Context, trade models.Trade, marketExit float64, at time.Time, apply ApplyFunc) (models.Settlement, error) {
	unlockTrade := s.tradeLocks.Lock(trade.ID)
	defer unlockTrade()
	unlockUser := s.userLocks.Lock(trade.UserID)
	defer unlockUser()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		d := s.decide(trade, marketExit)
		settlement := models.Settlement{
			TradeID:         trade.ID,
			UserID:          trade.UserID,
			Status:          d.Outcome.Status(),
			ExitPrice:       ReportedExit(trade.Direction, trade.EntryPrice, marketExit, d.Outcome, s.tickSize(trade.Symbol)),
			MarketExitPrice: marketExit,
			Payout:          models.PayoutFor(trade.Amount, trade.PayoutRate, d.Outcome),
			Source:          d.Source,
			Counter:         d.Counter,
			Target:          d.Target,
			SettledAt:       at,
		}

		err = apply(ctx, settlement)
		if err == nil {
			switch {
			case d.Source == models.SourceForcedTrade:
				s.takeForce(trade.ID)
			case d.Counter != models.CounterNone && d.Target != nil:
				s.consumeCounter(*d.Target, d.Counter, false)
			}
			return settlement, nil
		}
		if !errors.Is(err, models.ErrCounterDrained) || d.Target == nil {
			return models.Settlement{}, err
		}
		// Storage saw the counter at zero; drop it and decide again.
		s.consumeCounter(*d.Target, d.Counter, true)
		s.l.Warn("cached counter was stale",
			applogger.String("trade_id", trade.ID),
			applogger.String("user_id", trade.UserID),
			applogger.String("counter", string(d.Counter)),
		)
	}
	return models.Settlement{}, err
}

func (s *ManualControlService) decide(trade models.Trade, marketExit float64) models.OutcomeDecision {
	market := models.MarketOutcome(trade.Direction, trade.EntryPrice, marketExit)

	if o, ok := s.PeekForcedOutcome(trade.ID); ok {
		return models.OutcomeDecision{Outcome: o, Source: models.SourceForcedTrade}
	}

	t, ok := s.GetUserTargeting(trade.UserID, trade.Symbol)
	if !ok {
		return models.OutcomeDecision{Outcome: market, Source: models.SourceMarket}
	}
	key := t.Key()
	switch {
	case t.ForceNextWin > 0:
		return models.OutcomeDecision{Outcome: models.OutcomeWin, Source: models.SourceForceNextWin, Counter: models.CounterWin, Target: &key}
	case t.ForceNextLose > 0:
		return models.OutcomeDecision{Outcome: models.OutcomeLose, Source: models.SourceForceNextLose, Counter: models.CounterLose, Target: &key}
	case t.TargetWinRate != nil:
		if s.draw() < *t.TargetWinRate {
			return models.OutcomeDecision{Outcome: models.OutcomeWin, Source: models.SourceWinRate}
		}
	}
	return models.OutcomeDecision{Outcome: market, Source: models.SourceMarket}
}

func (s *ManualControlService) draw() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *ManualControlService) tickSize(symbol string) float64 {
	if ts, ok := s.tickSizes[symbol]; ok && ts > 0 {
		return ts
	}
	return defaultTickSize
}

// ReportedExit is the exit price recorded on a trade. It equals the market
// exit unless the outcome was decided against the market, in which case the
// market move is mirrored about the entry so the record reads consistently.
func ReportedExit(direction models.Direction, entry, market float64, outcome models.Outcome, tick float64) float64 {
	if outcome == models.MarketOutcome(direction, entry, market) || outcome == models.OutcomePush {
		return market
	}
	if tick <= 0 {
		tick = defaultTickSize
	}
	above := (outcome == models.OutcomeWin) == (direction == models.DirectionUp)

	dist := math.Max(math.Abs(market-entry), tick)
	exit := entry - dist
	if above {
		exit = entry + dist
	}
	exit = snapToTick(exit, tick)

	switch {
	case above && exit <= entry:
		exit = roundToTick(entry+tick, tick)
	case !above && exit >= entry:
		exit = roundToTick(entry-tick, tick)
	}
	if exit <= 0 {
		exit = entry / 2
	}
	return exit
}

func lookupError(op string, err error) error {
	var de *models.Error
	if errors.As(err, &de) && de.Kind == models.KindNotFound {
		return err
	}
	return models.PersistenceError(op, err)
}
