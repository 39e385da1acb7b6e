package repository

import (
	"encoding/json"
	"time"

	"OTCDesk/internal/domain/models"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Row types are storage-only; the domain never sees gorm tags.

type controlRow struct {
	Symbol               string     `gorm:"primaryKey;size:64"`
	DirectionBias        float64    `gorm:"not null"`
	DirectionStrength    float64    `gorm:"not null"`
	DirectionBiasExpiry  *time.Time `gorm:"index"`
	VolatilityMultiplier float64    `gorm:"not null"`
	VolatilityExpiry     *time.Time `gorm:"index"`
	PriceOverride        *float64
	PriceOverrideExpiry  *time.Time `gorm:"index"`
	IsActive             bool       `gorm:"not null"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime:false"`
	UpdatedBy            string     `gorm:"size:128"`
	Version              int64      `gorm:"not null"`
}

func (controlRow) TableName() string { return "manual_controls" }

func controlRowFrom(c models.ManualControl) controlRow {
	return controlRow{
		Symbol:               c.Symbol,
		DirectionBias:        c.DirectionBias,
		DirectionStrength:    c.DirectionStrength,
		DirectionBiasExpiry:  utcPtr(c.DirectionBiasExpiry),
		VolatilityMultiplier: c.VolatilityMultiplier,
		VolatilityExpiry:     utcPtr(c.VolatilityExpiry),
		PriceOverride:        c.PriceOverride,
		PriceOverrideExpiry:  utcPtr(c.PriceOverrideExpiry),
		IsActive:             c.IsActive,
		UpdatedAt:            c.UpdatedAt.UTC(),
		UpdatedBy:            c.UpdatedBy,
		Version:              c.Version,
	}
}

func (r controlRow) toModel() models.ManualControl {
	return models.ManualControl{
		Symbol:               r.Symbol,
		DirectionBias:        r.DirectionBias,
		DirectionStrength:    r.DirectionStrength,
		DirectionBiasExpiry:  utcPtr(r.DirectionBiasExpiry),
		VolatilityMultiplier: r.VolatilityMultiplier,
		VolatilityExpiry:     utcPtr(r.VolatilityExpiry),
		PriceOverride:        r.PriceOverride,
		PriceOverrideExpiry:  utcPtr(r.PriceOverrideExpiry),
		IsActive:             r.IsActive,
		UpdatedAt:            r.UpdatedAt.UTC(),
		UpdatedBy:            r.UpdatedBy,
		Version:              r.Version,
	}
}

type targetRow struct {
	UserID        string    `gorm:"primaryKey;size:64"`
	Symbol        string    `gorm:"primaryKey;size:64"`
	TargetWinRate *float64  `gorm:"column:target_win_rate"`
	ForceNextWin  int       `gorm:"not null"`
	ForceNextLose int       `gorm:"not null"`
	IsActive      bool      `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
	UpdatedBy     string    `gorm:"size:128"`
}

func (targetRow) TableName() string { return "user_targets" }

func targetRowFrom(t models.UserTargeting) targetRow {
	return targetRow{
		UserID:        t.UserID,
		Symbol:        t.Symbol,
		TargetWinRate: t.TargetWinRate,
		ForceNextWin:  t.ForceNextWin,
		ForceNextLose: t.ForceNextLose,
		IsActive:      t.IsActive,
		UpdatedAt:     t.UpdatedAt.UTC(),
		UpdatedBy:     t.UpdatedBy,
	}
}

func (r targetRow) toModel() models.UserTargeting {
	return models.UserTargeting{
		UserID:        r.UserID,
		Symbol:        r.Symbol,
		TargetWinRate: r.TargetWinRate,
		ForceNextWin:  r.ForceNextWin,
		ForceNextLose: r.ForceNextLose,
		IsActive:      r.IsActive,
		UpdatedAt:     r.UpdatedAt.UTC(),
		UpdatedBy:     r.UpdatedBy,
	}
}

type interventionRow struct {
	ID            int64          `gorm:"primaryKey;autoIncrement"`
	AdminID       string         `gorm:"size:128;not null;index"`
	ActionType    string         `gorm:"size:32;not null;index"`
	TargetType    string         `gorm:"size:16;not null"`
	TargetID      string         `gorm:"size:128;not null;index"`
	PreviousValue datatypes.JSON `gorm:"not null"`
	NewValue      datatypes.JSON `gorm:"not null"`
	Reason        string         `gorm:"type:text"`
	CreatedAt     time.Time      `gorm:"autoCreateTime:false;not null;index"`
}

func (interventionRow) TableName() string { return "manual_interventions" }

func interventionRowFrom(e models.ManualIntervention) interventionRow {
	return interventionRow{
		AdminID:       e.AdminID,
		ActionType:    string(e.ActionType),
		TargetType:    string(e.TargetType),
		TargetID:      e.TargetID,
		PreviousValue: jsonOrNull(e.PreviousValue),
		NewValue:      jsonOrNull(e.NewValue),
		Reason:        e.Reason,
		CreatedAt:     e.CreatedAt.UTC(),
	}
}

func (r interventionRow) toModel() models.ManualIntervention {
	return models.ManualIntervention{
		ID:            r.ID,
		AdminID:       r.AdminID,
		ActionType:    models.ActionType(r.ActionType),
		TargetType:    models.TargetType(r.TargetType),
		TargetID:      r.TargetID,
		PreviousValue: json.RawMessage(jsonOrNull(json.RawMessage(r.PreviousValue))),
		NewValue:      json.RawMessage(jsonOrNull(json.RawMessage(r.NewValue))),
		Reason:        r.Reason,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

// Decimals are stored as text so SQLite numeric affinity never rounds them.
type tradeRow struct {
	ID              string          `gorm:"primaryKey;size:64"`
	UserID          string          `gorm:"size:64;not null;index"`
	Symbol          string          `gorm:"size:64;not null;index:idx_trades_open,priority:2"`
	Direction       string          `gorm:"size:8;not null"`
	Amount          decimal.Decimal `gorm:"type:text;not null"`
	PayoutRate      decimal.Decimal `gorm:"type:text;not null"`
	EntryPrice      float64         `gorm:"not null"`
	OpenedAt        time.Time       `gorm:"not null"`
	ExpiresAt       time.Time       `gorm:"not null;index:idx_trades_open,priority:3"`
	Status          string          `gorm:"size:16;not null;index:idx_trades_open,priority:1"`
	ExitPrice       *float64
	MarketExitPrice *float64
	Payout          decimal.Decimal `gorm:"type:text"`
	OutcomeSource   string          `gorm:"size:32"`
	SettledAt       *time.Time
}

func (tradeRow) TableName() string { return "trades" }

func tradeRowFrom(t models.Trade) tradeRow {
	return tradeRow{
		ID:              t.ID,
		UserID:          t.UserID,
		Symbol:          t.Symbol,
		Direction:       string(t.Direction),
		Amount:          t.Amount,
		PayoutRate:      t.PayoutRate,
		EntryPrice:      t.EntryPrice,
		OpenedAt:        t.OpenedAt.UTC(),
		ExpiresAt:       t.ExpiresAt.UTC(),
		Status:          string(t.Status),
		ExitPrice:       t.ExitPrice,
		MarketExitPrice: t.MarketExitPrice,
		Payout:          t.Payout,
		OutcomeSource:   string(t.OutcomeSource),
		SettledAt:       utcPtr(t.SettledAt),
	}
}

func (r tradeRow) toModel() models.Trade {
	return models.Trade{
		ID:              r.ID,
		UserID:          r.UserID,
		Symbol:          r.Symbol,
		Direction:       models.Direction(r.Direction),
		Amount:          r.Amount,
		PayoutRate:      r.PayoutRate,
		EntryPrice:      r.EntryPrice,
		OpenedAt:        r.OpenedAt.UTC(),
		ExpiresAt:       r.ExpiresAt.UTC(),
		Status:          models.TradeStatus(r.Status),
		ExitPrice:       r.ExitPrice,
		MarketExitPrice: r.MarketExitPrice,
		Payout:          r.Payout,
		OutcomeSource:   models.OutcomeSource(r.OutcomeSource),
		SettledAt:       utcPtr(r.SettledAt),
	}
}

type userRow struct {
	ID        string          `gorm:"primaryKey;size:64"`
	Username  string          `gorm:"size:128"`
	Balance   decimal.Decimal `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (userRow) TableName() string { return "users" }

type ledgerRow struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	UserID    string          `gorm:"size:64;not null;index"`
	TradeID   string          `gorm:"size:64;not null;uniqueIndex"`
	Delta     decimal.Decimal `gorm:"type:text;not null"`
	Kind      string          `gorm:"size:32;not null"`
	CreatedAt time.Time       `gorm:"autoCreateTime:false;not null"`
}

func (ledgerRow) TableName() string { return "balance_ledger" }

// Models lists every table this package owns, for database.Open.
func Models() []interface{} {
	return []interface{}{
		&controlRow{},
		&targetRow{},
		&interventionRow{},
		&tradeRow{},
		&userRow{},
		&ledgerRow{},
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func jsonOrNull(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(raw)
}
