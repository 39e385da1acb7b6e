package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	pkgch "OTCDesk/pkg/clickhouse"
	pkgkafka "OTCDesk/pkg/kafka"
)

const tickSource = "otcdesk"

// ClickHouseStorage implements Storage for ClickHouse.
type ClickHouseStorage struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
}

// NewClickHouseStorage creates ClickHouse tick storage.
func NewClickHouseStorage(ch *pkgch.Client) *ClickHouseStorage {
	return &ClickHouseStorage{ch: ch, db: ch.DB(), table: pkgch.TickTable(ch.Database())}
}

var _ domrepo.Storage = (*ClickHouseStorage)(nil)

func (s *ClickHouseStorage) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, pkgch.TickSchema(s.ch.Database()))
}

func (s *ClickHouseStorage) Store(ctx context.Context, t *models.Tick) error {
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, seq, source) VALUES (?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q, t.Time.UTC(), t.Symbol, t.Price, t.Seq, tickSource)
	return err
}

func (s *ClickHouseStorage) StoreBatch(ctx context.Context, ticks []*models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	// Multi-row VALUES keeps round-trips down; 2000 rows per statement.
	const chunkSize = 2000
	for start := 0; start < len(ticks); start += chunkSize {
		end := start + chunkSize
		if end > len(ticks) {
			end = len(ticks)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*5)
		for _, t := range ticks[start:end] {
			if t == nil || t.Symbol == "" || t.Time.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?)")
			args = append(args, t.Time.UTC(), t.Symbol, t.Price, t.Seq, tickSource)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, seq, source) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseStorage) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Tick, error) {
	q := fmt.Sprintf("SELECT symbol, ts, price, seq FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC, seq DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []*models.Tick
	for rows.Next() {
		var t models.Tick
		if err := rows.Scan(&t.Symbol, &t.Time, &t.Price, &t.Seq); err != nil {
			return nil, err
		}
		t.Time = t.Time.UTC()
		ticks = append(ticks, &t)
	}
	return ticks, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return nil // client owned by the app
}

// tickMessage is the wire format of the ticks topic.
type tickMessage struct {
	Symbol string  `json:"symbol"`
	T      int64   `json:"t"` // unix millis
	Price  float64 `json:"p"`
	Seq    uint64  `json:"seq"`
}

func newTickMessage(t *models.Tick) tickMessage {
	return tickMessage{Symbol: t.Symbol, T: t.Time.UnixMilli(), Price: t.Price, Seq: t.Seq}
}

func (m tickMessage) toModel() *models.Tick {
	return &models.Tick{Symbol: m.Symbol, Price: m.Price, Seq: m.Seq, Time: time.UnixMilli(m.T).UTC()}
}

// DecodeTickMessage parses one record of the ticks topic.
func DecodeTickMessage(b []byte) (*models.Tick, error) {
	var m tickMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode tick: %w", err)
	}
	if m.Symbol == "" || m.T <= 0 {
		return nil, fmt.Errorf("tick message missing symbol or time")
	}
	return m.toModel(), nil
}

// KafkaPublisher implements Publisher for Kafka.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka tick publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

var _ domrepo.Publisher = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) Publish(ctx context.Context, t *models.Tick) error {
	return p.producer.Publish(ctx, p.topic, []byte(t.Symbol), newTickMessage(t))
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, ticks []*models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(ticks))
	for i, t := range ticks {
		msgs[i] = pkgkafka.Message{Key: []byte(t.Symbol), Value: newTickMessage(t)}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) Close() error {
	return nil // producer owned by the app
}
