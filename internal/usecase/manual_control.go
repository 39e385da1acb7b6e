package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	applogger "OTCDesk/pkg/logger"
	"OTCDesk/pkg/util"
)

// systemActor is recorded as updated_by for writes no admin asked for.
const systemActor = "system"

// RandomSource draws uniform numbers in [0, 1).
type RandomSource interface {
	Float64() float64
}

// ManualControlService owns every administrative lever: per-symbol price
// controls, per-trade forced outcomes and per-user targeting. Its maps are
// populated by LoadFromDatabase and only change through its methods.
type ManualControlService struct {
	controls domrepo.ControlRepository
	targets  domrepo.TargetingRepository
	trades   domrepo.TradeRepository
	users    domrepo.UserRepository
	audit    *AuditLog
	clock    util.Clock
	rng      RandomSource
	rngMu    sync.Mutex
	metrics  domrepo.Metrics
	l        *applogger.Logger

	scheduler *ExpiryScheduler
	symbols   map[string]bool
	tickSizes map[string]float64

	symbolLocks *KeyedMutex
	userLocks   *KeyedMutex
	tradeLocks  *KeyedMutex

	mu        sync.RWMutex
	cache     map[string]models.ManualControl
	targeting map[models.TargetKey]models.UserTargeting
	forces    map[string]models.Outcome

	runCancel context.CancelFunc
	runWg     sync.WaitGroup
}

// ManualControlDeps groups the collaborators of ManualControlService.
type ManualControlDeps struct {
	Controls domrepo.ControlRepository
	Targets  domrepo.TargetingRepository
	Trades   domrepo.TradeRepository
	Users    domrepo.UserRepository
	Audit    *AuditLog
	Clock    util.Clock
	Random   RandomSource
	Metrics  domrepo.Metrics
	Logger   *applogger.Logger
	// Symbols restricts symbol controls to known instruments. Empty allows any.
	Symbols []string
	// TickSizes drives the rounding of reported exit prices.
	TickSizes map[string]float64
}

func NewManualControlService(d ManualControlDeps) *ManualControlService {
	s := &ManualControlService{
		controls:    d.Controls,
		targets:     d.Targets,
		trades:      d.Trades,
		users:       d.Users,
		audit:       d.Audit,
		clock:       d.Clock,
		rng:         d.Random,
		metrics:     d.Metrics,
		l:           d.Logger,
		symbols:     make(map[string]bool, len(d.Symbols)),
		tickSizes:   d.TickSizes,
		symbolLocks: NewKeyedMutex(),
		userLocks:   NewKeyedMutex(),
		tradeLocks:  NewKeyedMutex(),
		cache:       make(map[string]models.ManualControl),
		targeting:   make(map[models.TargetKey]models.UserTargeting),
		forces:      make(map[string]models.Outcome),
	}
	for _, sym := range d.Symbols {
		s.symbols[sym] = true
	}
	s.scheduler = NewExpiryScheduler(d.Clock, s.onExpiry)
	return s
}

// LoadFromDatabase rebuilds the caches. Controls whose deadline passed while
// the process was down are reverted before this returns; the rest are armed.
func (s *ManualControlService) LoadFromDatabase(ctx context.Context) error {
	controls, err := s.controls.List(ctx)
	if err != nil {
		return fmt.Errorf("load controls: %w", err)
	}
	targets, err := s.targets.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load targeting: %w", err)
	}

	s.mu.Lock()
	for _, c := range controls {
		s.cache[c.Symbol] = c.Clone()
	}
	for _, t := range targets {
		s.targeting[t.Key()] = t.Clone()
	}
	s.mu.Unlock()

	now := s.clock.Now()
	reverted := 0
	for _, c := range controls {
		var due []models.ControlKind
		for _, kind := range models.ControlKinds {
			exp := c.Expiry(kind)
			switch {
			case exp == nil:
			case !now.Before(*exp):
				due = append(due, kind)
			default:
				s.scheduler.Arm(ExpiryKey{Kind: kind, Symbol: c.Symbol}, *exp)
			}
		}
		if len(due) == 0 {
			continue
		}
		if err := s.revertDue(ctx, c.Symbol, due, nil); err != nil {
			s.l.Error("revert expired control on load",
				applogger.String("symbol", c.Symbol),
				applogger.Error(err),
			)
			continue
		}
		reverted += len(due)
	}

	s.l.Info("manual controls loaded",
		applogger.Int("controls", len(controls)),
		applogger.Int("targets", len(targets)),
		applogger.Int("reverted", reverted),
		applogger.Int("armed", s.scheduler.Len()),
	)
	return nil
}

// Start runs the expiry loop until Shutdown.
func (s *ManualControlService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.runWg.Add(1)
	go func() {
		defer s.runWg.Done()
		s.scheduler.Run(runCtx)
	}()
}

// Shutdown stops the expiry loop, drops pending deadlines and flushes the
// audit mirror.
func (s *ManualControlService) Shutdown() {
	if s.runCancel != nil {
		s.runCancel()
	}
	s.runWg.Wait()
	s.scheduler.Clear()
	s.audit.Close()
}

// Scheduler exposes the expiry queue, mainly so tests can fire it with a
// manual clock.
func (s *ManualControlService) Scheduler() *ExpiryScheduler { return s.scheduler }

// --- direction bias ---

func (s *ManualControlService) SetDirectionBias(ctx context.Context, symbol string, bias, strength float64, m models.Mutation) (models.ManualControl, error) {
	if err := s.validateSymbol(symbol); err != nil {
		return models.ManualControl{}, err
	}
	if !finite(bias) || bias < -1 || bias > 1 {
		return models.ManualControl{}, models.ValidationErrorf("bias", "bias must be within [-1, 1]")
	}
	if !finite(strength) || strength < 0 {
		return models.ManualControl{}, models.ValidationErrorf("strength", "strength must be a non-negative number")
	}
	if err := validateMutation(m, false); err != nil {
		return models.ManualControl{}, err
	}
	return s.mutate(ctx, symbol, models.ActionPriceBias, m, func(c *models.ManualControl, now time.Time) {
		c.DirectionBias, c.DirectionStrength = bias, strength
		c.DirectionBiasExpiry = deadlineFrom(now, m.Duration)
		c.IsActive = true
	})
}

func (s *ManualControlService) GetDirectionBias(ctx context.Context, symbol string) (bias, strength float64) {
	c, _ := s.current(ctx, symbol)
	return c.DirectionBias, c.DirectionStrength
}

func (s *ManualControlService) ClearDirectionBias(ctx context.Context, symbol string, m models.Mutation) (models.ManualControl, error) {
	return s.clear(ctx, symbol, models.ControlBias, m)
}

// --- volatility ---

func (s *ManualControlService) SetVolatility(ctx context.Context, symbol string, multiplier float64, m models.Mutation) (models.ManualControl, error) {
	if err := s.validateSymbol(symbol); err != nil {
		return models.ManualControl{}, err
	}
	if !finite(multiplier) || multiplier <= 0 {
		return models.ManualControl{}, models.ValidationErrorf("multiplier", "multiplier must be greater than 0")
	}
	if err := validateMutation(m, false); err != nil {
		return models.ManualControl{}, err
	}
	return s.mutate(ctx, symbol, models.ActionVolatility, m, func(c *models.ManualControl, now time.Time) {
		c.VolatilityMultiplier = multiplier
		c.VolatilityExpiry = deadlineFrom(now, m.Duration)
		c.IsActive = true
	})
}

func (s *ManualControlService) GetVolatility(ctx context.Context, symbol string) float64 {
	c, _ := s.current(ctx, symbol)
	return c.VolatilityMultiplier
}

func (s *ManualControlService) ClearVolatility(ctx context.Context, symbol string, m models.Mutation) (models.ManualControl, error) {
	return s.clear(ctx, symbol, models.ControlVolatility, m)
}

// --- price override ---

// SetPriceOverride pins the published price. Overrides always expire.
func (s *ManualControlService) SetPriceOverride(ctx context.Context, symbol string, price float64, m models.Mutation) (models.ManualControl, error) {
	if err := s.validateSymbol(symbol); err != nil {
		return models.ManualControl{}, err
	}
	if !finite(price) || price <= 0 {
		return models.ManualControl{}, models.ValidationErrorf("price", "price must be greater than 0")
	}
	if err := validateMutation(m, true); err != nil {
		return models.ManualControl{}, err
	}
	return s.mutate(ctx, symbol, models.ActionPriceOverride, m, func(c *models.ManualControl, now time.Time) {
		p := price
		c.PriceOverride = &p
		c.PriceOverrideExpiry = deadlineFrom(now, m.Duration)
		c.IsActive = true
	})
}

// GetPriceOverride returns the override while it is in force.
func (s *ManualControlService) GetPriceOverride(ctx context.Context, symbol string) (float64, bool) {
	c, _ := s.current(ctx, symbol)
	if !c.IsActive || c.PriceOverride == nil {
		return 0, false
	}
	return *c.PriceOverride, true
}

func (s *ManualControlService) ClearPriceOverride(ctx context.Context, symbol string, m models.Mutation) (models.ManualControl, error) {
	return s.clear(ctx, symbol, models.ControlOverride, m)
}

// --- whole symbol ---

// ResetSymbol puts every control of symbol back to default and deactivates it.
func (s *ManualControlService) ResetSymbol(ctx context.Context, symbol string, m models.Mutation) (models.ManualControl, error) {
	if err := validateMutation(m, false); err != nil {
		return models.ManualControl{}, err
	}
	if !s.hasRecord(symbol) {
		return models.ManualControl{}, models.NotFoundErrorf("no controls recorded for %s", symbol)
	}
	return s.mutate(ctx, symbol, models.ActionControlReset, m, func(c *models.ManualControl, _ time.Time) {
		for _, kind := range models.ControlKinds {
			c.Revert(kind)
		}
		c.IsActive = false
	})
}

// GetControl returns the current record of symbol with expired values reverted.
func (s *ManualControlService) GetControl(ctx context.Context, symbol string) (models.ManualControl, error) {
	c, ok := s.current(ctx, symbol)
	if !ok {
		if err := s.validateSymbol(symbol); err != nil {
			return models.ManualControl{}, models.NotFoundErrorf("unknown symbol %s", symbol)
		}
	}
	return c, nil
}

// ListControls returns every recorded control, sorted by symbol.
func (s *ManualControlService) ListControls(ctx context.Context) []models.ManualControl {
	s.mu.RLock()
	symbols := make([]string, 0, len(s.cache))
	for sym := range s.cache {
		symbols = append(symbols, sym)
	}
	s.mu.RUnlock()
	sort.Strings(symbols)

	out := make([]models.ManualControl, 0, len(symbols))
	for _, sym := range symbols {
		c, _ := s.current(ctx, sym)
		out = append(out, c)
	}
	return out
}

// ControlState is what the price engine applies to the next tick of symbol.
func (s *ManualControlService) ControlState(ctx context.Context, symbol string) models.ControlState {
	c, ok := s.current(ctx, symbol)
	if !ok {
		return models.NeutralState()
	}
	return c.State()
}

// --- internals ---

// current returns the cached control of symbol with expired values reverted.
// The revert is persisted on the spot; when that write fails the defaults are
// still returned and the next read tries again.
func (s *ManualControlService) current(ctx context.Context, symbol string) (models.ManualControl, bool) {
	s.mu.RLock()
	c, ok := s.cache[symbol]
	s.mu.RUnlock()
	if !ok {
		return models.DefaultControl(symbol), false
	}
	c = c.Clone()

	now := s.clock.Now()
	var due []models.ControlKind
	for _, kind := range models.ControlKinds {
		if c.Expired(kind, now) {
			due = append(due, kind)
		}
	}
	if len(due) == 0 {
		return c, true
	}

	if err := s.revertDue(ctx, symbol, due, nil); err != nil {
		s.metrics.RecordError("control_expiry")
		s.l.Warn("lazy control expiry not persisted",
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
	}
	for _, kind := range due {
		c.Revert(kind)
	}
	c.IsActive = c.IsActive && anySet(c)
	return c, true
}

// onExpiry is the scheduler callback.
func (s *ManualControlService) onExpiry(key ExpiryKey, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.revertDue(ctx, key.Symbol, []models.ControlKind{key.Kind}, &at); err != nil {
		s.metrics.RecordError("control_expiry")
		s.l.Warn("scheduled control expiry not persisted",
			applogger.String("symbol", key.Symbol),
			applogger.String("kind", string(key.Kind)),
			applogger.Error(err),
		)
	}
}

// revertDue reverts the kinds of symbol whose deadline has passed. With
// deadline set, a kind is only reverted while its cached expiry still equals
// it, so a clear or re-arm that raced the timer wins. Reverts are not audited.
func (s *ManualControlService) revertDue(ctx context.Context, symbol string, kinds []models.ControlKind, deadline *time.Time) error {
	unlock := s.symbolLocks.Lock(symbol)
	defer unlock()

	s.mu.RLock()
	cur, ok := s.cache[symbol]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	now := s.clock.Now()
	next := cur.Clone()
	var reverted []models.ControlKind
	for _, kind := range kinds {
		exp := cur.Expiry(kind)
		if exp == nil || now.Before(*exp) {
			continue
		}
		if deadline != nil && !exp.Equal(*deadline) {
			continue
		}
		next.Revert(kind)
		reverted = append(reverted, kind)
	}
	if len(reverted) == 0 {
		return nil
	}
	next.IsActive = next.IsActive && anySet(next)
	next.UpdatedAt = now
	next.UpdatedBy = systemActor

	stored, err := s.controls.Upsert(ctx, next)
	if err != nil {
		return models.PersistenceError("revert expired control", err)
	}
	s.storeControl(stored)
	for _, kind := range reverted {
		s.scheduler.Cancel(ExpiryKey{Kind: kind, Symbol: symbol})
		s.l.Info("control expired",
			applogger.String("symbol", symbol),
			applogger.String("kind", string(kind)),
		)
	}
	return nil
}

// mutate runs one administrative write of symbol: apply, persist, cache,
// re-arm timers, audit. Nothing is cached or audited when persisting fails.
func (s *ManualControlService) mutate(ctx context.Context, symbol string, action models.ActionType, m models.Mutation, apply func(c *models.ManualControl, now time.Time)) (models.ManualControl, error) {
	unlock := s.symbolLocks.Lock(symbol)
	defer unlock()

	now := s.clock.Now()
	s.mu.RLock()
	cur, existed := s.cache[symbol]
	s.mu.RUnlock()
	if existed {
		cur = cur.Clone()
	} else {
		cur = models.DefaultControl(symbol)
	}
	for _, kind := range models.ControlKinds {
		if cur.Expired(kind, now) {
			cur.Revert(kind)
		}
	}
	cur.IsActive = cur.IsActive && anySet(cur)

	next := cur.Clone()
	apply(&next, now)
	next.UpdatedAt = now
	next.UpdatedBy = m.AdminID

	stored, err := s.controls.Upsert(ctx, next)
	if err != nil {
		s.metrics.RecordError("control_persist")
		return models.ManualControl{}, models.PersistenceError("persist control", err)
	}
	s.storeControl(stored)
	s.rearm(stored)

	var prev interface{}
	if existed && inEffect(action, cur) {
		prev = controlSnapshot(action, cur)
	}
	s.audit.Record(ctx, m.AdminID, action, models.TargetSymbol, symbol, prev, controlSnapshot(action, stored), m.Reason)

	s.l.Info("control changed",
		applogger.String("symbol", symbol),
		applogger.String("action", string(action)),
		applogger.String("admin_id", m.AdminID),
		applogger.Int64("version", stored.Version),
	)
	return stored.Clone(), nil
}

func (s *ManualControlService) clear(ctx context.Context, symbol string, kind models.ControlKind, m models.Mutation) (models.ManualControl, error) {
	if err := validateMutation(m, false); err != nil {
		return models.ManualControl{}, err
	}
	if !s.hasRecord(symbol) {
		return models.ManualControl{}, models.NotFoundErrorf("no controls recorded for %s", symbol)
	}
	return s.mutate(ctx, symbol, actionFor(kind), m, func(c *models.ManualControl, _ time.Time) {
		c.Revert(kind)
		c.IsActive = c.IsActive && anySet(*c)
	})
}

func (s *ManualControlService) storeControl(c models.ManualControl) {
	s.mu.Lock()
	s.cache[c.Symbol] = c.Clone()
	s.mu.Unlock()
}

func (s *ManualControlService) rearm(c models.ManualControl) {
	for _, kind := range models.ControlKinds {
		key := ExpiryKey{Kind: kind, Symbol: c.Symbol}
		if exp := c.Expiry(kind); exp != nil {
			s.scheduler.Arm(key, *exp)
		} else {
			s.scheduler.Cancel(key)
		}
	}
}

func (s *ManualControlService) hasRecord(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[symbol]
	return ok
}

func (s *ManualControlService) validateSymbol(symbol string) error {
	if strings.TrimSpace(symbol) == "" {
		return models.ValidationErrorf("symbol", "symbol is required")
	}
	if symbol == models.AllSymbols {
		return models.ValidationErrorf("symbol", "%s is not a tradable symbol", symbol)
	}
	if len(s.symbols) > 0 && !s.symbols[symbol] {
		return models.ValidationErrorf("symbol", "unknown symbol %s", symbol)
	}
	return nil
}

func validateMutation(m models.Mutation, durationRequired bool) error {
	if strings.TrimSpace(m.AdminID) == "" {
		return models.ValidationErrorf("admin_id", "admin_id is required")
	}
	if m.Duration < 0 {
		return models.ValidationErrorf("duration", "duration cannot be negative")
	}
	if m.Duration > models.MaxControlDuration {
		return models.ValidationErrorf("duration", "duration cannot exceed %s", models.MaxControlDuration)
	}
	if durationRequired && m.Duration == 0 {
		return models.ValidationErrorf("duration", "duration is required")
	}
	return nil
}

func deadlineFrom(now time.Time, d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	t := now.Add(d)
	return &t
}

func anySet(c models.ManualControl) bool {
	for _, kind := range models.ControlKinds {
		if c.IsSet(kind) {
			return true
		}
	}
	return false
}

func actionFor(kind models.ControlKind) models.ActionType {
	switch kind {
	case models.ControlVolatility:
		return models.ActionVolatility
	case models.ControlOverride:
		return models.ActionPriceOverride
	default:
		return models.ActionPriceBias
	}
}

// inEffect reports whether the control an action touches held a
// non-default value. Audit rows record a null previous value otherwise.
func inEffect(action models.ActionType, c models.ManualControl) bool {
	switch action {
	case models.ActionPriceBias:
		return c.IsSet(models.ControlBias)
	case models.ActionVolatility:
		return c.IsSet(models.ControlVolatility)
	case models.ActionPriceOverride:
		return c.IsSet(models.ControlOverride)
	default:
		return anySet(c)
	}
}

func controlSnapshot(action models.ActionType, c models.ManualControl) interface{} {
	switch action {
	case models.ActionPriceBias:
		return models.BiasSnapshot{Bias: c.DirectionBias, Strength: c.DirectionStrength, ExpiresAt: c.DirectionBiasExpiry}
	case models.ActionVolatility:
		return models.VolatilitySnapshot{Multiplier: c.VolatilityMultiplier, ExpiresAt: c.VolatilityExpiry}
	case models.ActionPriceOverride:
		return models.OverrideSnapshot{Price: c.PriceOverride, ExpiresAt: c.PriceOverrideExpiry}
	default:
		return c
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
