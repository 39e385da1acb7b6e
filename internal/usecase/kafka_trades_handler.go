package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	pkgkafka "OTCDesk/pkg/kafka"
	applogger "OTCDesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// intakeNamespace scopes ids derived for trade.opened messages sent without one.
var intakeNamespace = uuid.MustParse("6f1c7e52-4b0e-5d8a-9a43-0c2f7d1e8b61")

// KafkaTradesHandler turns trade.opened messages into OPEN trades.
// Redelivery is harmless: inserts are idempotent on the trade id.
type KafkaTradesHandler struct {
	topic       string
	trades      domrepo.TradeRepository
	users       domrepo.UserRepository
	defaultRate decimal.Decimal
	symbols     map[string]bool
	metrics     domrepo.Metrics
	l           *applogger.Logger
}

// TradesHandlerOption configures KafkaTradesHandler.
type TradesHandlerOption func(*KafkaTradesHandler)

// WithIntakeSymbols restricts intake to symbols the engine publishes. A
// trade on any other symbol could never settle.
func WithIntakeSymbols(symbols ...string) TradesHandlerOption {
	return func(h *KafkaTradesHandler) {
		h.symbols = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			h.symbols[s] = true
		}
	}
}

func NewKafkaTradesHandler(topic string, trades domrepo.TradeRepository, users domrepo.UserRepository, defaultPayoutRate float64, metrics domrepo.Metrics, l *applogger.Logger, opts ...TradesHandlerOption) *KafkaTradesHandler {
	h := &KafkaTradesHandler{
		topic:       topic,
		trades:      trades,
		users:       users,
		defaultRate: decimal.NewFromFloat(defaultPayoutRate),
		metrics:     metrics,
		l:           l,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *KafkaTradesHandler) Topic() string { return h.topic }

func (h *KafkaTradesHandler) Handle(ctx context.Context, b []byte) error {
	var m models.TradeOpened
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("trade_intake_unmarshal")
		return fmt.Errorf("decode trade.opened: %w", err)
	}
	trade, err := h.toTrade(m)
	if err != nil {
		h.metrics.RecordError("trade_intake_invalid")
		// retrying an invalid message cannot help
		h.l.Warn("trade.opened rejected", applogger.String("trade_id", m.ID), applogger.Error(err))
		return nil
	}
	if _, err := h.users.GetUser(ctx, trade.UserID); err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.metrics.RecordError("trade_intake_store")
			return fmt.Errorf("look up user %s: %w", trade.UserID, err)
		}
		h.metrics.RecordError("trade_intake_invalid")
		h.l.Warn("trade.opened rejected", applogger.String("trade_id", trade.ID), applogger.Error(err))
		return nil
	}
	if err := h.trades.Insert(ctx, trade); err != nil {
		h.metrics.RecordError("trade_intake_store")
		return fmt.Errorf("insert trade %s: %w", trade.ID, err)
	}
	h.l.Debug("trade opened",
		applogger.String("trade_id", trade.ID),
		applogger.String("user_id", trade.UserID),
		applogger.String("symbol", trade.Symbol),
	)
	return nil
}

func (h *KafkaTradesHandler) toTrade(m models.TradeOpened) (models.Trade, error) {
	switch {
	case strings.TrimSpace(m.UserID) == "":
		return models.Trade{}, fmt.Errorf("user_id is required")
	case strings.TrimSpace(m.Symbol) == "":
		return models.Trade{}, fmt.Errorf("symbol is required")
	case !m.Direction.Valid():
		return models.Trade{}, fmt.Errorf("direction must be UP or DOWN")
	case h.symbols != nil && !h.symbols[m.Symbol]:
		return models.Trade{}, fmt.Errorf("symbol %s is not traded", m.Symbol)
	case !m.Amount.IsPositive():
		return models.Trade{}, fmt.Errorf("amount must be positive")
	case m.EntryPrice <= 0:
		return models.Trade{}, fmt.Errorf("entry_price must be positive")
	case m.OpenedAt.IsZero() || !m.ExpiresAt.After(m.OpenedAt):
		return models.Trade{}, fmt.Errorf("expires_at must follow opened_at")
	case m.PayoutRate.IsNegative():
		return models.Trade{}, fmt.Errorf("payout_rate cannot be negative")
	}
	if m.ID == "" {
		m.ID = derivedTradeID(m)
	}
	rate := m.PayoutRate
	if rate.IsZero() {
		rate = h.defaultRate
	}
	return models.Trade{
		ID:         m.ID,
		UserID:     m.UserID,
		Symbol:     m.Symbol,
		Direction:  m.Direction,
		Amount:     m.Amount,
		PayoutRate: rate,
		EntryPrice: m.EntryPrice,
		OpenedAt:   m.OpenedAt.UTC(),
		ExpiresAt:  m.ExpiresAt.UTC(),
		Status:     models.TradeOpen,
	}, nil
}

var _ pkgkafka.MessageHandler = (*KafkaTradesHandler)(nil)

// derivedTradeID names an id-less message by its content, so every
// redelivery of it maps to the same trade.
func derivedTradeID(m models.TradeOpened) string {
	key := strings.Join([]string{
		m.UserID,
		m.Symbol,
		string(m.Direction),
		m.Amount.String(),
		m.PayoutRate.String(),
		strconv.FormatFloat(m.EntryPrice, 'g', -1, 64),
		m.OpenedAt.UTC().Format(time.RFC3339Nano),
		m.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}, "|")
	return uuid.NewSHA1(intakeNamespace, []byte(key)).String()
}
