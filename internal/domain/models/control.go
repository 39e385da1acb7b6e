package models

import "time"

// AllSymbols is the symbol scope of a user targeting record that applies to every symbol.
const AllSymbols = "ALL"

// ControlKind names one independently expiring control of a symbol.
type ControlKind string

const (
	ControlBias       ControlKind = "bias"
	ControlVolatility ControlKind = "volatility"
	ControlOverride   ControlKind = "override"
)

// ControlKinds lists every kind in a fixed order.
var ControlKinds = []ControlKind{ControlBias, ControlVolatility, ControlOverride}

// ManualControl is the durable per-symbol control record.
type ManualControl struct {
	Symbol               string     `json:"symbol"`
	DirectionBias        float64    `json:"direction_bias"`
	DirectionStrength    float64    `json:"direction_strength"`
	DirectionBiasExpiry  *time.Time `json:"direction_bias_expiry,omitempty"`
	VolatilityMultiplier float64    `json:"volatility_multiplier"`
	VolatilityExpiry     *time.Time `json:"volatility_expiry,omitempty"`
	PriceOverride        *float64   `json:"price_override,omitempty"`
	PriceOverrideExpiry  *time.Time `json:"price_override_expiry,omitempty"`
	IsActive             bool       `json:"is_active"`
	UpdatedAt            time.Time  `json:"updated_at"`
	UpdatedBy            string     `json:"updated_by"`
	Version              int64      `json:"version"`
}

// DefaultControl returns the neutral record for symbol.
func DefaultControl(symbol string) ManualControl {
	return ManualControl{Symbol: symbol, VolatilityMultiplier: 1}
}

// Clone returns a copy that shares no pointers with c.
func (c ManualControl) Clone() ManualControl {
	out := c
	out.DirectionBiasExpiry = cloneTime(c.DirectionBiasExpiry)
	out.VolatilityExpiry = cloneTime(c.VolatilityExpiry)
	out.PriceOverrideExpiry = cloneTime(c.PriceOverrideExpiry)
	if c.PriceOverride != nil {
		v := *c.PriceOverride
		out.PriceOverride = &v
	}
	return out
}

// Expiry returns the deadline of kind, nil when the value does not expire.
func (c ManualControl) Expiry(kind ControlKind) *time.Time {
	switch kind {
	case ControlBias:
		return c.DirectionBiasExpiry
	case ControlVolatility:
		return c.VolatilityExpiry
	case ControlOverride:
		return c.PriceOverrideExpiry
	}
	return nil
}

// IsSet reports whether kind currently holds a non-default value.
func (c ManualControl) IsSet(kind ControlKind) bool {
	switch kind {
	case ControlBias:
		return c.DirectionBias != 0 || c.DirectionStrength != 0
	case ControlVolatility:
		return c.VolatilityMultiplier != 1
	case ControlOverride:
		return c.PriceOverride != nil
	}
	return false
}

// Expired reports whether kind has a deadline at or before now.
func (c ManualControl) Expired(kind ControlKind, now time.Time) bool {
	exp := c.Expiry(kind)
	return exp != nil && !now.Before(*exp)
}

// Revert puts kind back to its default and drops its deadline.
func (c *ManualControl) Revert(kind ControlKind) {
	switch kind {
	case ControlBias:
		c.DirectionBias, c.DirectionStrength, c.DirectionBiasExpiry = 0, 0, nil
	case ControlVolatility:
		c.VolatilityMultiplier, c.VolatilityExpiry = 1, nil
	case ControlOverride:
		c.PriceOverride, c.PriceOverrideExpiry = nil, nil
	}
}

// State returns the control as seen by the price path. Expired values must be
// reverted by the caller first.
func (c ManualControl) State() ControlState {
	if !c.IsActive {
		return NeutralState()
	}
	s := ControlState{
		Bias:       c.DirectionBias,
		Strength:   c.DirectionStrength,
		Multiplier: c.VolatilityMultiplier,
	}
	if c.PriceOverride != nil {
		v := *c.PriceOverride
		s.Override = &v
	}
	return s
}

// ControlState is the effective perturbation input for one tick.
type ControlState struct {
	Bias       float64
	Strength   float64
	Multiplier float64
	Override   *float64
}

// NeutralState leaves the natural walk untouched.
func NeutralState() ControlState {
	return ControlState{Multiplier: 1}
}

// Neutral reports whether s changes nothing.
func (s ControlState) Neutral() bool {
	return s.Override == nil && s.Multiplier == 1 && (s.Bias == 0 || s.Strength == 0)
}

// MaxControlDuration caps how long a timed control may stay armed.
const MaxControlDuration = 366 * 24 * time.Hour

// Mutation carries who changed something, for how long and why.
type Mutation struct {
	AdminID  string
	Duration time.Duration
	Reason   string
}

// BiasSnapshot is the audit view of a direction bias.
type BiasSnapshot struct {
	Bias      float64    `json:"bias"`
	Strength  float64    `json:"strength"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// VolatilitySnapshot is the audit view of a volatility multiplier.
type VolatilitySnapshot struct {
	Multiplier float64    `json:"multiplier"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// OverrideSnapshot is the audit view of a price override.
type OverrideSnapshot struct {
	Price     *float64   `json:"price"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
