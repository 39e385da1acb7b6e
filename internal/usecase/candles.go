package usecase

import (
	"context"
	"errors"
	"time"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
)

// CandlesUseCase reads OHLC candles built from the tick archive.
type CandlesUseCase struct {
	store domrepo.CandleStore
}

// errArchiveDisabled is returned when no tick archive is configured.
var errArchiveDisabled = errors.New("tick archive disabled")

// NewCandlesUseCase accepts a nil store; reads then fail as unavailable.
func NewCandlesUseCase(store domrepo.CandleStore) *CandlesUseCase {
	return &CandlesUseCase{store: store}
}

type GetCandlesParams struct {
	Symbol    string
	From      time.Time
	To        time.Time
	Timeframe domrepo.Timeframe
	Limit     int
}

type GetCandlesResult struct {
	Symbol    string
	Timeframe string
	From      time.Time
	To        time.Time
	Count     int
	Candles   []models.Candle
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, models.ValidationErrorf("symbol", "symbol required")
	}
	if p.From.After(p.To) {
		return nil, models.ValidationErrorf("from", "from must be <= to")
	}
	if !domrepo.IsValidTimeframe(p.Timeframe) {
		return nil, models.ValidationErrorf("tf", "unsupported timeframe %q", p.Timeframe)
	}
	if uc.store == nil {
		return nil, models.PersistenceError("get candles", errArchiveDisabled)
	}
	if p.Limit <= 0 {
		p.Limit = 10000
	}
	if p.Limit > 50000 {
		p.Limit = 50000
	}

	candles, err := uc.store.GetCandles(ctx, p.Symbol, p.From, p.To, p.Timeframe)
	if err != nil {
		return nil, models.PersistenceError("get candles", err)
	}
	if len(candles) > p.Limit {
		candles = candles[:p.Limit]
	}

	return &GetCandlesResult{
		Symbol:    p.Symbol,
		Timeframe: string(p.Timeframe),
		From:      p.From,
		To:        p.To,
		Count:     len(candles),
		Candles:   candles,
	}, nil
}

// Latest returns the n most recent candles of symbol, oldest first.
func (uc *CandlesUseCase) Latest(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	if symbol == "" {
		return nil, models.ValidationErrorf("symbol", "symbol required")
	}
	if uc.store == nil {
		return nil, models.PersistenceError("get latest candles", errArchiveDisabled)
	}
	if n <= 0 || n > 5000 {
		n = 100
	}
	candles, err := uc.store.GetLatestNCandles(ctx, symbol, n, tf)
	if err != nil {
		return nil, models.PersistenceError("get latest candles", err)
	}
	return candles, nil
}
