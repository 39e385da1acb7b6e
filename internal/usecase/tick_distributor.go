package usecase

import (
	"sync"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
)

type subscriber struct {
	name string
	ch   chan models.Tick
}

// TickDistributor fans published ticks out to subscribers without ever
// blocking the publisher, and keeps a bounded history per symbol.
type TickDistributor struct {
	metrics     domrepo.Metrics
	historySize int

	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	history map[string]*tickRing
	last    map[string]models.Tick
}

func NewTickDistributor(historySize int, metrics domrepo.Metrics) *TickDistributor {
	if historySize <= 0 {
		historySize = 1000
	}
	return &TickDistributor{
		metrics:     metrics,
		historySize: historySize,
		subs:        make(map[int]*subscriber),
		history:     make(map[string]*tickRing),
		last:        make(map[string]models.Tick),
	}
}

// Subscribe registers a consumer. The returned func removes it and closes the
// channel; calling it more than once is safe.
func (d *TickDistributor) Subscribe(name string, buffer int) (<-chan models.Tick, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	sub := &subscriber{name: name, ch: make(chan models.Tick, buffer)}

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = sub
	d.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish records t and offers it to every subscriber. A full subscriber
// misses the tick.
func (d *TickDistributor) Publish(t models.Tick) {
	d.mu.Lock()
	ring, ok := d.history[t.Symbol]
	if !ok {
		ring = newTickRing(d.historySize)
		d.history[t.Symbol] = ring
	}
	ring.push(t)
	d.last[t.Symbol] = t
	d.mu.Unlock()

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subs {
		select {
		case sub.ch <- t:
		default:
			d.metrics.RecordTickDropped(sub.name)
		}
	}
}

// Last returns the most recent tick of symbol.
func (d *TickDistributor) Last(symbol string) (models.Tick, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.last[symbol]
	return t, ok
}

// History returns up to n most recent ticks of symbol, oldest first.
func (d *TickDistributor) History(symbol string, n int) []models.Tick {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ring, ok := d.history[symbol]
	if !ok {
		return []models.Tick{}
	}
	return ring.tail(n)
}

// Subscribers reports the number of live subscriptions.
func (d *TickDistributor) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

type tickRing struct {
	buf  []models.Tick
	next int
	full bool
}

func newTickRing(size int) *tickRing {
	return &tickRing{buf: make([]models.Tick, size)}
}

func (r *tickRing) push(t models.Tick) {
	r.buf[r.next] = t
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *tickRing) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *tickRing) tail(n int) []models.Tick {
	size := r.len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]models.Tick, 0, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
