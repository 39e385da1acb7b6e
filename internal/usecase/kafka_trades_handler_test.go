package usecase

import (
	"context"
	"testing"

	"OTCDesk/internal/domain/models"
	applogger "OTCDesk/pkg/logger"
	"OTCDesk/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIntake(e *env) *KafkaTradesHandler {
	return NewKafkaTradesHandler("otc.trades.opened", e.trades, e.trades, 0.85, metrics.Nop{}, applogger.NewNop(),
		WithIntakeSymbols(eurusd, "BTCUSD-OTC"))
}

func TestKafkaTradesHandlerIntake(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "0")
	h := newIntake(e)

	msg := `{"id":"t-9","user_id":"u1","symbol":"EURUSD-OTC","direction":"UP","amount":"50",` +
		`"entry_price":1.085,"opened_at":"2026-03-02T10:00:00Z","expires_at":"2026-03-02T10:01:00Z"}`
	require.NoError(t, h.Handle(ctx, []byte(msg)))
	// redelivery is harmless
	require.NoError(t, h.Handle(ctx, []byte(msg)))

	tr, err := e.trades.Get(ctx, "t-9")
	require.NoError(t, err)
	assert.Equal(t, models.TradeOpen, tr.Status)
	assert.Equal(t, "0.85", tr.PayoutRate.String())

	// invalid messages are dropped, not retried
	require.NoError(t, h.Handle(ctx, []byte(`{"id":"bad","user_id":"u1","symbol":"EURUSD-OTC","direction":"SIDEWAYS"}`)))
	_, err = e.trades.Get(ctx, "bad")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Error(t, h.Handle(ctx, []byte(`not json`)))
}

func TestKafkaTradesHandlerRedeliveryWithoutID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "0")
	h := newIntake(e)

	msg := `{"user_id":"u1","symbol":"EURUSD-OTC","direction":"DOWN","amount":"25",` +
		`"entry_price":1.085,"opened_at":"2026-03-02T10:00:00Z","expires_at":"2026-03-02T10:05:00Z"}`
	// same trade, different field order on the wire
	again := `{"expires_at":"2026-03-02T10:05:00Z","opened_at":"2026-03-02T10:00:00Z","entry_price":1.085,` +
		`"amount":"25","direction":"DOWN","symbol":"EURUSD-OTC","user_id":"u1"}`
	require.NoError(t, h.Handle(ctx, []byte(msg)))
	require.NoError(t, h.Handle(ctx, []byte(msg)))
	require.NoError(t, h.Handle(ctx, []byte(again)))

	open, err := e.trades.ListOpen(ctx, eurusd)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.NotEmpty(t, open[0].ID)

	// a second trade with other terms gets its own id
	other := `{"user_id":"u1","symbol":"EURUSD-OTC","direction":"DOWN","amount":"30",` +
		`"entry_price":1.085,"opened_at":"2026-03-02T10:00:00Z","expires_at":"2026-03-02T10:05:00Z"}`
	require.NoError(t, h.Handle(ctx, []byte(other)))
	open, err = e.trades.ListOpen(ctx, eurusd)
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestKafkaTradesHandlerRejectsUnsettleableTrades(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedUser(t, "u1", "0")
	h := newIntake(e)

	cases := map[string]string{
		"unknown symbol": `{"id":"x-1","user_id":"u1","symbol":"NOPE-OTC","direction":"UP","amount":"10",` +
			`"entry_price":1,"opened_at":"2026-03-02T10:00:00Z","expires_at":"2026-03-02T10:01:00Z"}`,
		"negative rate": `{"id":"x-2","user_id":"u1","symbol":"EURUSD-OTC","direction":"UP","amount":"10","payout_rate":"-3",` +
			`"entry_price":1.085,"opened_at":"2026-03-02T10:00:00Z","expires_at":"2026-03-02T10:01:00Z"}`,
		"unknown user": `{"id":"x-3","user_id":"ghost","symbol":"EURUSD-OTC","direction":"UP","amount":"10",` +
			`"entry_price":1.085,"opened_at":"2026-03-02T10:00:00Z","expires_at":"2026-03-02T10:01:00Z"}`,
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, h.Handle(ctx, []byte(msg)))
		})
	}
	for _, id := range []string{"x-1", "x-2", "x-3"} {
		_, err := e.trades.Get(ctx, id)
		assert.ErrorIs(t, err, models.ErrNotFound, id)
	}
}
