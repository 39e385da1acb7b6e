package models

import (
	"encoding/json"
	"time"
)

type ActionType string

const (
	ActionPriceBias     ActionType = "PRICE_BIAS"
	ActionVolatility    ActionType = "VOLATILITY"
	ActionPriceOverride ActionType = "PRICE_OVERRIDE"
	ActionTradeForce    ActionType = "TRADE_FORCE"
	ActionUserTarget    ActionType = "USER_TARGET"
	ActionControlReset  ActionType = "CONTROL_RESET"
)

type TargetType string

const (
	TargetSymbol TargetType = "SYMBOL"
	TargetUser   TargetType = "USER"
	TargetTrade  TargetType = "TRADE"
)

// ManualIntervention is one append-only audit row.
type ManualIntervention struct {
	ID            int64           `json:"id"`
	AdminID       string          `json:"admin_id"`
	ActionType    ActionType      `json:"action_type"`
	TargetType    TargetType      `json:"target_type"`
	TargetID      string          `json:"target_id"`
	PreviousValue json.RawMessage `json:"previous_value"`
	NewValue      json.RawMessage `json:"new_value"`
	Reason        string          `json:"reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// InterventionFilter narrows an audit query. Zero fields do not filter.
type InterventionFilter struct {
	AdminID    string
	ActionType ActionType
	TargetType TargetType
	TargetID   string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

type InterventionPage struct {
	Items  []ManualIntervention `json:"items"`
	Total  int64                `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}
