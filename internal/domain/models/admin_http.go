package models

// Requests for admin HTTP endpoints. Defined in domain for consistency and reuse.

type SetBiasRequest struct {
	AdminID         string   `json:"admin_id" validate:"required"`
	Bias            *float64 `json:"bias" validate:"required,gte=-1,lte=1"`
	Strength        *float64 `json:"strength" validate:"required,gte=0"`
	DurationMinutes float64  `json:"duration_minutes" validate:"gte=0,lte=527040"`
	Reason          string   `json:"reason" validate:"max=500"`
}

type SetVolatilityRequest struct {
	AdminID         string   `json:"admin_id" validate:"required"`
	Multiplier      *float64 `json:"multiplier" validate:"required,gt=0"`
	DurationMinutes float64  `json:"duration_minutes" validate:"gte=0,lte=527040"`
	Reason          string   `json:"reason" validate:"max=500"`
}

type SetOverrideRequest struct {
	AdminID         string   `json:"admin_id" validate:"required"`
	Price           *float64 `json:"price" validate:"required,gt=0"`
	DurationMinutes float64  `json:"duration_minutes" validate:"gt=0,lte=527040"`
	Reason          string   `json:"reason" validate:"max=500"`
}

// AdminActionRequest is the body of clear/reset/remove calls.
type AdminActionRequest struct {
	AdminID string `json:"admin_id" validate:"required"`
	Reason  string `json:"reason" validate:"max=500"`
}

type ForceTradeRequest struct {
	AdminID string `json:"admin_id" validate:"required"`
	Outcome string `json:"outcome" validate:"required,oneof=WIN LOSE"`
	Reason  string `json:"reason" validate:"max=500"`
}

type SetTargetingRequest struct {
	AdminID       string   `json:"admin_id" validate:"required"`
	Symbol        string   `json:"symbol"`
	TargetWinRate *float64 `json:"target_win_rate" validate:"omitempty,gte=0,lte=1"`
	ClearWinRate  bool     `json:"clear_win_rate"`
	ForceNextWin  *int     `json:"force_next_win" validate:"omitempty,gte=0"`
	ForceNextLose *int     `json:"force_next_lose" validate:"omitempty,gte=0"`
	Reason        string   `json:"reason" validate:"max=500"`
}

type InterventionsRequest struct {
	AdminID    string `query:"admin_id"`
	ActionType string `query:"action_type" validate:"omitempty,oneof=PRICE_BIAS VOLATILITY PRICE_OVERRIDE TRADE_FORCE USER_TARGET CONTROL_RESET"`
	TargetType string `query:"target_type" validate:"omitempty,oneof=SYMBOL USER TRADE"`
	TargetID   string `query:"target_id"`
	From       string `query:"from"`
	To         string `query:"to"`
	Limit      int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
	Offset     int    `query:"offset" validate:"gte=0,lte=527040"`
}

type CandlesRequest struct {
	TF   string `query:"tf" json:"tf" default:"1m" validate:"oneof=1s 1m 5m 1h"`
	From string `query:"from" json:"from"`
	To   string `query:"to" json:"to"`
}
