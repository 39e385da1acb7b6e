package usecase

import (
	"context"
	"time"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	pkgkafka "OTCDesk/pkg/kafka"
)

// TickDecoder parses one record of the ticks topic.
type TickDecoder func([]byte) (*models.Tick, error)

// KafkaTicksHandler archives ticks from the stream into storage.
type KafkaTicksHandler struct {
	topic   string
	decode  TickDecoder
	storage domrepo.Storage
	metrics domrepo.Metrics
}

func NewKafkaTicksHandler(topic string, decode TickDecoder, storage domrepo.Storage, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, decode: decode, storage: storage, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	t, err := h.decode(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	// event time to now
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(t.Time).Seconds())

	start := time.Now()
	err = h.storage.Store(ctx, t)
	h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordMessageSent("clickhouse", t.Symbol)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
