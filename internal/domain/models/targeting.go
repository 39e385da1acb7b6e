package models

import (
	"strings"
	"time"
)

// TargetKey identifies a user targeting record.
type TargetKey struct {
	UserID string
	Symbol string
}

// NewTargetKey normalizes an empty symbol to the all-symbol scope.
func NewTargetKey(userID, symbol string) TargetKey {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		symbol = AllSymbols
	}
	return TargetKey{UserID: userID, Symbol: symbol}
}

// UserTargeting is a per-user outcome steering record.
type UserTargeting struct {
	UserID        string    `json:"user_id"`
	Symbol        string    `json:"symbol"`
	TargetWinRate *float64  `json:"target_win_rate,omitempty"`
	ForceNextWin  int       `json:"force_next_win"`
	ForceNextLose int       `json:"force_next_lose"`
	IsActive      bool      `json:"is_active"`
	UpdatedAt     time.Time `json:"updated_at"`
	UpdatedBy     string    `json:"updated_by"`
}

func (t UserTargeting) Key() TargetKey {
	return TargetKey{UserID: t.UserID, Symbol: t.Symbol}
}

func (t UserTargeting) Clone() UserTargeting {
	out := t
	if t.TargetWinRate != nil {
		v := *t.TargetWinRate
		out.TargetWinRate = &v
	}
	return out
}

// TargetingPatch updates only the fields it carries.
type TargetingPatch struct {
	TargetWinRate *float64
	ClearWinRate  bool
	ForceNextWin  *int
	ForceNextLose *int
}

// Empty reports whether the patch changes nothing.
func (p TargetingPatch) Empty() bool {
	return p.TargetWinRate == nil && !p.ClearWinRate && p.ForceNextWin == nil && p.ForceNextLose == nil
}

// Apply returns t with the patch applied.
func (p TargetingPatch) Apply(t UserTargeting) UserTargeting {
	out := t.Clone()
	if p.ClearWinRate {
		out.TargetWinRate = nil
	}
	if p.TargetWinRate != nil {
		v := *p.TargetWinRate
		out.TargetWinRate = &v
	}
	if p.ForceNextWin != nil {
		out.ForceNextWin = *p.ForceNextWin
	}
	if p.ForceNextLose != nil {
		out.ForceNextLose = *p.ForceNextLose
	}
	return out
}

// CounterKind names the forced counter a settlement consumed.
type CounterKind string

const (
	CounterNone CounterKind = ""
	CounterWin  CounterKind = "force_next_win"
	CounterLose CounterKind = "force_next_lose"
)
