package usecase

import (
	"sync"
	"testing"

	"OTCDesk/internal/domain/models"
	"OTCDesk/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dropCounter struct {
	metrics.Nop
	mu    sync.Mutex
	drops map[string]int
}

func (d *dropCounter) RecordTickDropped(sub string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.drops == nil {
		d.drops = map[string]int{}
	}
	d.drops[sub]++
}

func TestDistributorHistoryIsBounded(t *testing.T) {
	d := NewTickDistributor(3, metrics.Nop{})
	assert.Equal(t, []models.Tick{}, d.History(eurusd, 10))

	for i := 1; i <= 5; i++ {
		d.Publish(models.Tick{Symbol: eurusd, Price: float64(i), Seq: uint64(i)})
	}
	h := d.History(eurusd, 10)
	require.Len(t, h, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{h[0].Seq, h[1].Seq, h[2].Seq})

	h = d.History(eurusd, 2)
	require.Len(t, h, 2)
	assert.Equal(t, uint64(4), h[0].Seq)

	last, ok := d.Last(eurusd)
	require.True(t, ok)
	assert.Equal(t, 5.0, last.Price)
}

func TestDistributorNeverBlocksOnSlowSubscriber(t *testing.T) {
	m := &dropCounter{}
	d := NewTickDistributor(10, m)
	slow, unsubscribe := d.Subscribe("slow", 1)

	for i := 0; i < 4; i++ {
		d.Publish(models.Tick{Symbol: eurusd, Seq: uint64(i)})
	}
	assert.Equal(t, 3, m.drops["slow"])

	got := <-slow
	assert.Equal(t, uint64(0), got.Seq)

	assert.Equal(t, 1, d.Subscribers())
	unsubscribe()
	unsubscribe()
	assert.Zero(t, d.Subscribers())
	_, open := <-slow
	assert.False(t, open)

	// publishing after the last subscriber left is fine
	d.Publish(models.Tick{Symbol: eurusd, Seq: 9})
}
