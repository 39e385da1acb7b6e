package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicsMergeKeepsConfiguredNames(t *testing.T) {
	got := Topics{Settlements: "desk.settlements"}.Merge()
	assert.Equal(t, "desk.settlements", got.Settlements)
	assert.Equal(t, DefaultTopics().Ticks, got.Ticks)
	assert.Equal(t, DefaultTopics().Trades, got.Trades)
	require.NoError(t, got.Validate())
}

func TestTopicsRejectSharedTopic(t *testing.T) {
	topics := DefaultTopics()
	topics.Trades = topics.Ticks
	assert.Error(t, topics.Validate())

	topics = DefaultTopics()
	topics.Alerts = ""
	assert.Error(t, topics.Validate())
}

func TestProducerOptions(t *testing.T) {
	cfg := defaultProducerConfig()
	for _, opt := range []ProducerOption{
		WithBrokers([]string{"localhost:9092"}),
		WithDelivery(1, 0),
		WithBatching(0, 0, 50*time.Millisecond),
	} {
		opt(cfg)
	}
	require.NoError(t, cfg.validate())
	assert.Equal(t, 1, cfg.RequiredAcks)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 50*time.Millisecond, cfg.BatchTimeout)
	assert.True(t, cfg.HashByKey)
}

func TestNewProducerValidates(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	assert.Error(t, err)

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithDelivery(2, 1))
	assert.Error(t, err)
}
