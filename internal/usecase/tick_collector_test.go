package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"OTCDesk/internal/domain/models"
	mid "OTCDesk/internal/middleware"
	applogger "OTCDesk/pkg/logger"
	"OTCDesk/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	mu      sync.Mutex
	ticks   []*models.Tick
	batches int
	err     error
}

func (s *memStorage) Init(context.Context) error { return nil }

func (s *memStorage) Store(_ context.Context, t *models.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ticks = append(s.ticks, t)
	return nil
}

func (s *memStorage) StoreBatch(_ context.Context, ticks []*models.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches++
	s.ticks = append(s.ticks, ticks...)
	return nil
}

func (s *memStorage) Query(context.Context, string, time.Time, time.Time, int) ([]*models.Tick, error) {
	return nil, nil
}

func (s *memStorage) Health(context.Context) error { return nil }
func (s *memStorage) Close() error                 { return nil }

func (s *memStorage) stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func TestCollectorArchivesEveryTick(t *testing.T) {
	ctx := context.Background()
	store := &memStorage{}
	dist := NewTickDistributor(10, metrics.Nop{})
	proc := NewTickProcessor(nil, store, metrics.Nop{}, "clickhouse")
	pipe := mid.NewRealtimePipeline(proc, metrics.Nop{}, mid.WithMaxRPS(0))
	c := NewTickCollector(dist, pipe, metrics.Nop{}, applogger.NewNop(), 3, time.Hour)
	c.Start(ctx)

	for i := 1; i <= 7; i++ {
		dist.Publish(models.Tick{Symbol: eurusd, Price: 1.085, Seq: uint64(i), Time: t0.Add(time.Duration(i) * time.Second)})
	}
	require.Eventually(t, func() bool { return store.stored() >= 6 }, 2*time.Second, 5*time.Millisecond)

	c.Shutdown()
	assert.Equal(t, 7, store.stored())
	assert.Equal(t, 3, store.batches)
}

func TestTickProcessorUnavailableBackend(t *testing.T) {
	proc := NewTickProcessor(nil, nil, metrics.Nop{}, "kafka")
	err := proc.Process(context.Background(), &models.Tick{Symbol: eurusd, Price: 1, Time: t0})
	assert.Error(t, err)
	assert.NoError(t, proc.ProcessBatch(context.Background(), nil))
}

func TestKafkaTicksHandlerStores(t *testing.T) {
	store := &memStorage{}
	decode := func(b []byte) (*models.Tick, error) {
		var tk models.Tick
		if err := json.Unmarshal(b, &tk); err != nil {
			return nil, err
		}
		return &tk, nil
	}
	h := NewKafkaTicksHandler("otc.ticks", decode, store, metrics.Nop{})
	assert.Equal(t, "otc.ticks", h.Topic())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"EURUSD-OTC","price":1.085,"seq":1,"time":"2026-03-02T10:00:00Z"}`)))
	assert.Equal(t, 1, store.stored())
	assert.Error(t, h.Handle(context.Background(), []byte(`{`)))

	store.err = errors.New("clickhouse down")
	assert.Error(t, h.Handle(context.Background(), []byte(`{"symbol":"EURUSD-OTC","price":1.085,"time":"2026-03-02T10:00:00Z"}`)))
}
