package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches []AlertBatch
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.(AlertBatch))
	return nil
}

func TestCollectorDeduplicatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{
		Service:        "otcdesk",
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "alerts",
		Publisher:      pub,
	})

	for i := 0; i < 3; i++ {
		l.Error("settlement failed", String("trade_id", "t-1"), Error(errors.New("boom")))
	}
	l.Error("settlement failed", String("trade_id", "t-2"))
	l.Warn("not collected")

	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, "alerts", pub.topic)
	assert.Equal(t, "otcdesk", pub.batches[0].Service)
	require.Len(t, pub.batches[0].Entries, 2)

	counts := map[interface{}]int{}
	for _, e := range pub.batches[0].Entries {
		counts[e.Fields["trade_id"]] = e.Count
	}
	assert.Equal(t, 3, counts["t-1"])
	assert.Equal(t, 1, counts["t-2"])
}

func TestCollectorSkipsNilPublisher(t *testing.T) {
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour})
	c.AddLog("error", "x", nil, "f.go:1")
	assert.Equal(t, 1, c.Pending())
	c.Close()
	assert.Equal(t, 0, c.Pending())
}
