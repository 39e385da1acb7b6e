package middleware

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"OTCDesk/internal/domain/models"
	"OTCDesk/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProc struct {
	mu    sync.Mutex
	fail  bool
	ticks []*models.Tick
}

func (p *recordingProc) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

func (p *recordingProc) Process(_ context.Context, t *models.Tick) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("downstream unavailable")
	}
	p.ticks = append(p.ticks, t)
	return nil
}

func (p *recordingProc) ProcessBatch(ctx context.Context, ticks []*models.Tick) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("downstream unavailable")
	}
	p.ticks = append(p.ticks, ticks...)
	return nil
}

func (p *recordingProc) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ticks)
}

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func tick(sym string, price float64, at time.Time) *models.Tick {
	return &models.Tick{Symbol: sym, Price: price, Time: at}
}

func TestPipelineRejectsInvalidTicks(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{})
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, nil))
	assert.Error(t, p.Process(ctx, tick("", 1, base)))
	assert.Error(t, p.Process(ctx, tick("A", 0, base)))
	assert.Error(t, p.Process(ctx, tick("A", math.NaN(), base)))
	assert.Error(t, p.Process(ctx, tick("A", 1, time.Time{})))
	assert.Zero(t, proc.count())
}

func TestPipelineThrottlesOnTickTime(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(2))

	batch := []*models.Tick{
		tick("A", 1, base),
		tick("A", 1, base.Add(100*time.Millisecond)), // inside 500ms window
		tick("A", 1, base.Add(600*time.Millisecond)),
		tick("B", 1, base.Add(100*time.Millisecond)),
	}
	require.NoError(t, p.ProcessBatch(context.Background(), batch))
	assert.Equal(t, 3, proc.count())
}

func TestPipelineTransform(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(0), WithTransform(func(t *models.Tick) *models.Tick {
		out := *t
		out.Price = math.Round(t.Price*100) / 100
		return &out
	}))
	require.NoError(t, p.Process(context.Background(), tick("A", 1.23456, base)))
	assert.Equal(t, 1.23, proc.ticks[0].Price)
}

func TestPipelineBuffersAndRetries(t *testing.T) {
	proc := &recordingProc{fail: true}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(0), WithBufferSize(10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.ProcessBatch(ctx, []*models.Tick{tick("A", 1, base), tick("A", 2, base.Add(time.Second))})
	require.Error(t, err)
	assert.Equal(t, 2, p.Buffered())

	proc.setFail(false)
	p.Start(ctx)
	require.Eventually(t, func() bool { return proc.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()
	assert.Zero(t, p.Buffered())
}
