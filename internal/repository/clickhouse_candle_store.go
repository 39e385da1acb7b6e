package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	pkgch "OTCDesk/pkg/clickhouse"
	applogger "OTCDesk/pkg/logger"
)

// CHCandleStore aggregates archived ticks into OHLC candles at query time.
type CHCandleStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, l *applogger.Logger) *CHCandleStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHCandleStore{db: ch.DB(), table: pkgch.TickTable(ch.Database()), l: l}
}

var _ domrepo.CandleStore = (*CHCandleStore)(nil)

const candleSelect = `
        SELECT toStartOfInterval(ts, %s) AS bucket,
               symbol,
               argMin(price, (ts, seq)) AS open,
               max(price) AS high,
               min(price) AS low,
               argMax(price, (ts, seq)) AS close,
               count() AS ticks
        FROM %s FINAL
        WHERE %s
        GROUP BY bucket, symbol
        ORDER BY bucket %s
`

func (s *CHCandleStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	interval, err := intervalForTF(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(candleSelect, interval, s.table, "symbol = ? AND ts >= ? AND ts <= ?", "ASC")
	return s.query(ctx, "get_candles", symbol, tf, q, symbol, from.UTC(), to.UTC())
}

func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	interval, err := intervalForTF(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(candleSelect, interval, s.table, "symbol = ?", "DESC") + "        LIMIT ?\n"
	out, err := s.query(ctx, "latest_candles", symbol, tf, q, symbol, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHCandleStore) query(ctx context.Context, op, symbol string, tf domrepo.Timeframe, q string, args ...interface{}) ([]models.Candle, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse "+op+" query error",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 256)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Ticks); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Bucket = c.Bucket.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse "+op+" ok",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func intervalForTF(tf domrepo.Timeframe) (string, error) {
	switch tf {
	case domrepo.TF1s:
		return "INTERVAL 1 SECOND", nil
	case domrepo.TF1m:
		return "INTERVAL 1 MINUTE", nil
	case domrepo.TF5m:
		return "INTERVAL 5 MINUTE", nil
	case domrepo.TF1h:
		return "INTERVAL 1 HOUR", nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
}
