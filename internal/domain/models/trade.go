package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

func (d Direction) Valid() bool { return d == DirectionUp || d == DirectionDown }

type TradeStatus string

const (
	TradeOpen     TradeStatus = "OPEN"
	TradeSettling TradeStatus = "SETTLING"
	TradeWon      TradeStatus = "WON"
	TradeLost     TradeStatus = "LOST"
	TradePush     TradeStatus = "PUSH"
)

// Terminal reports whether the status can no longer change.
func (s TradeStatus) Terminal() bool {
	return s == TradeWon || s == TradeLost || s == TradePush
}

type Outcome string

const (
	OutcomeWin  Outcome = "WIN"
	OutcomeLose Outcome = "LOSE"
	OutcomePush Outcome = "PUSH"
)

// Forcible reports whether an admin may force this outcome.
func (o Outcome) Forcible() bool { return o == OutcomeWin || o == OutcomeLose }

// Status maps an outcome to the terminal trade status.
func (o Outcome) Status() TradeStatus {
	switch o {
	case OutcomeWin:
		return TradeWon
	case OutcomeLose:
		return TradeLost
	default:
		return TradePush
	}
}

// OutcomeSource records which rule decided a settlement. Admin-facing only.
type OutcomeSource string

const (
	SourceForcedTrade   OutcomeSource = "FORCED_TRADE"
	SourceForceNextWin  OutcomeSource = "FORCE_NEXT_WIN"
	SourceForceNextLose OutcomeSource = "FORCE_NEXT_LOSE"
	SourceWinRate       OutcomeSource = "WIN_RATE"
	SourceMarket        OutcomeSource = "MARKET"
)

// Trade is a fixed-expiry up/down contract.
type Trade struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Symbol          string          `json:"symbol"`
	Direction       Direction       `json:"direction"`
	Amount          decimal.Decimal `json:"amount"`
	PayoutRate      decimal.Decimal `json:"payout_rate"`
	EntryPrice      float64         `json:"entry_price"`
	OpenedAt        time.Time       `json:"opened_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Status          TradeStatus     `json:"status"`
	ExitPrice       *float64        `json:"exit_price,omitempty"`
	MarketExitPrice *float64        `json:"market_exit_price,omitempty"`
	Payout          decimal.Decimal `json:"payout"`
	OutcomeSource   OutcomeSource   `json:"outcome_source,omitempty"`
	SettledAt       *time.Time      `json:"settled_at,omitempty"`
}

// MarketOutcome compares exit against entry for direction. Equal prices push.
func MarketOutcome(direction Direction, entry, exit float64) Outcome {
	switch {
	case exit == entry:
		return OutcomePush
	case direction == DirectionUp && exit > entry:
		return OutcomeWin
	case direction == DirectionDown && exit < entry:
		return OutcomeWin
	default:
		return OutcomeLose
	}
}

// PayoutFor returns the balance credit for a settled stake. The stake itself
// was debited when the trade opened.
func PayoutFor(amount, rate decimal.Decimal, outcome Outcome) decimal.Decimal {
	switch outcome {
	case OutcomeWin:
		return amount.Mul(decimal.NewFromInt(1).Add(rate))
	case OutcomePush:
		return amount
	default:
		return decimal.Zero
	}
}

// OutcomeDecision is what the control layer decided for one settlement.
type OutcomeDecision struct {
	Outcome Outcome
	Source  OutcomeSource
	Counter CounterKind
	// Target is the targeting record whose counter is consumed, if any.
	Target *TargetKey
}

// Settlement is the full set of writes for one trade, applied atomically.
type Settlement struct {
	TradeID         string
	UserID          string
	Status          TradeStatus
	ExitPrice       float64
	MarketExitPrice float64
	Payout          decimal.Decimal
	Source          OutcomeSource
	Counter         CounterKind
	Target          *TargetKey
	SettledAt       time.Time
}

// LedgerKind labels a balance ledger row.
func (s Settlement) LedgerKind() string {
	switch s.Status {
	case TradeWon:
		return "TRADE_WIN"
	case TradePush:
		return "TRADE_REFUND"
	default:
		return "TRADE_LOSS"
	}
}

// SettlementEvent is published outward. It never reveals how the outcome was decided.
type SettlementEvent struct {
	EventID   string          `json:"event_id"`
	TradeID   string          `json:"trade_id"`
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
	Status    TradeStatus     `json:"status"`
	Entry     float64         `json:"entry_price"`
	Exit      float64         `json:"exit_price"`
	Payout    decimal.Decimal `json:"payout"`
	SettledAt time.Time       `json:"settled_at"`
}

// OpenTradeView is an open trade as the admin panel sees it.
type OpenTradeView struct {
	Trade
	ForcedOutcome *Outcome `json:"forced_outcome,omitempty"`
}

// User is the balance holder of trades.
type User struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
}

// TradeOpened is the intake message for a newly opened trade.
type TradeOpened struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	Amount     decimal.Decimal `json:"amount"`
	PayoutRate decimal.Decimal `json:"payout_rate"`
	EntryPrice float64         `json:"entry_price"`
	OpenedAt   time.Time       `json:"opened_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}
