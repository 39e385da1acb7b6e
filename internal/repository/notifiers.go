package repository

import (
	"context"
	"fmt"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	xhttp "OTCDesk/pkg/http"
	pkgkafka "OTCDesk/pkg/kafka"
	applogger "OTCDesk/pkg/logger"
	"OTCDesk/pkg/queue"
)

// KafkaEvents publishes settlement events and mirrors audit rows to Kafka.
// Settlements are keyed by user so one user's results stay ordered.
type KafkaEvents struct {
	producer *pkgkafka.Producer
	topics   pkgkafka.Topics
}

func NewKafkaEvents(producer *pkgkafka.Producer, topics pkgkafka.Topics) *KafkaEvents {
	return &KafkaEvents{producer: producer, topics: topics}
}

var (
	_ domrepo.EventPublisher     = (*KafkaEvents)(nil)
	_ domrepo.InterventionMirror = (*KafkaEvents)(nil)
)

func (k *KafkaEvents) PublishSettlement(ctx context.Context, ev models.SettlementEvent) error {
	return k.producer.Publish(ctx, k.topics.Settlements, []byte(ev.UserID), ev)
}

func (k *KafkaEvents) MirrorIntervention(ctx context.Context, entry models.ManualIntervention) error {
	return k.producer.Publish(ctx, k.topics.Interventions, []byte(entry.TargetID), entry)
}

// QueueEvents pushes settlement events onto a Redis list.
type QueueEvents struct {
	q queue.QueueService
}

func NewQueueEvents(q queue.QueueService) *QueueEvents {
	return &QueueEvents{q: q}
}

func (e *QueueEvents) PublishSettlement(ctx context.Context, ev models.SettlementEvent) error {
	return e.q.PublishMessage(ctx, "trade.settled", ev)
}

// WebhookEvents POSTs settlement events to an HTTP endpoint.
type WebhookEvents struct {
	client *xhttp.Client
	url    string
}

func NewWebhookEvents(client *xhttp.Client, url string) *WebhookEvents {
	return &WebhookEvents{client: client, url: url}
}

func (w *WebhookEvents) PublishSettlement(ctx context.Context, ev models.SettlementEvent) error {
	if err := w.client.PostJSON(ctx, w.url, ev); err != nil {
		return fmt.Errorf("webhook %s: %w", ev.TradeID, err)
	}
	return nil
}

// LogEvents writes events to the log only.
type LogEvents struct {
	l *applogger.Logger
}

func NewLogEvents(l *applogger.Logger) *LogEvents {
	return &LogEvents{l: l}
}

func (e *LogEvents) PublishSettlement(_ context.Context, ev models.SettlementEvent) error {
	e.l.Info("trade settled",
		applogger.String("trade_id", ev.TradeID),
		applogger.String("user_id", ev.UserID),
		applogger.String("symbol", ev.Symbol),
		applogger.String("status", string(ev.Status)),
		applogger.Float64("exit_price", ev.Exit),
		applogger.String("payout", ev.Payout.String()),
	)
	return nil
}

func (e *LogEvents) MirrorIntervention(_ context.Context, entry models.ManualIntervention) error {
	e.l.Debug("intervention recorded",
		applogger.Int64("id", entry.ID),
		applogger.String("action", string(entry.ActionType)),
		applogger.String("target", entry.TargetID),
	)
	return nil
}
