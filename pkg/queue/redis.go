package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"OTCDesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue pushes messages onto a Redis list for external workers to BRPOP.
type RedisQueue struct {
	logger    *logger.Logger
	client    *redis.Client
	keyPrefix string
	maxLen    int64
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keyPrefix = prefix
	}
}

// WithMaxLen caps the list length; oldest messages are trimmed first.
func WithMaxLen(n int64) RedisQueueOption {
	return func(r *RedisQueue) {
		r.maxLen = n
	}
}

// NewRedisPublisher creates a publisher-only queue.
func NewRedisPublisher(lgr *logger.Logger, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	q := &RedisQueue{
		logger:    lgr,
		client:    client,
		keyPrefix: "otcdesk:queue",
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger.Info("redis publisher ready",
		logger.String("addr", client.Options().Addr),
		logger.String("key", q.QueueKey()))
	return q
}

// Enqueue adds a message to the queue.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.QueueKey(), msgData)
	if r.maxLen > 0 {
		pipe.LTrim(ctx, r.QueueKey(), 0, r.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// PublishMessage publishes a message (implements QueueService).
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

// QueueKey is the Redis list the messages are pushed to.
func (r *RedisQueue) QueueKey() string {
	return fmt.Sprintf("%s:messages", r.keyPrefix)
}
