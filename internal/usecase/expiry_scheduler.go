package usecase

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"OTCDesk/internal/domain/models"
	"OTCDesk/pkg/util"
)

// ExpiryKey identifies one expiring control value.
type ExpiryKey struct {
	Kind   models.ControlKind
	Symbol string
}

// ExpiryFunc is called once per deadline that comes due.
type ExpiryFunc func(key ExpiryKey, deadline time.Time)

// ExpiryScheduler keeps one deadline per key in a min-heap and fires them in
// deadline order. Re-arming a key replaces its deadline.
type ExpiryScheduler struct {
	clock util.Clock
	fire  ExpiryFunc

	mu    sync.Mutex
	queue deadlineQueue
	index map[ExpiryKey]*deadline
	wake  chan struct{}
}

type deadline struct {
	key ExpiryKey
	at  time.Time
	pos int
}

func NewExpiryScheduler(clock util.Clock, fire ExpiryFunc) *ExpiryScheduler {
	return &ExpiryScheduler{
		clock: clock,
		fire:  fire,
		index: make(map[ExpiryKey]*deadline),
		wake:  make(chan struct{}, 1),
	}
}

// Arm sets or replaces the deadline of key.
func (s *ExpiryScheduler) Arm(key ExpiryKey, at time.Time) {
	s.mu.Lock()
	if d, ok := s.index[key]; ok {
		d.at = at
		heap.Fix(&s.queue, d.pos)
	} else {
		d := &deadline{key: key, at: at}
		heap.Push(&s.queue, d)
		s.index[key] = d
	}
	s.mu.Unlock()
	s.signal()
}

// Cancel drops the deadline of key, if any.
func (s *ExpiryScheduler) Cancel(key ExpiryKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.index[key]; ok {
		heap.Remove(&s.queue, d.pos)
		delete(s.index, key)
	}
}

// Deadline returns the armed deadline of key.
func (s *ExpiryScheduler) Deadline(key ExpiryKey) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.index[key]
	if !ok {
		return time.Time{}, false
	}
	return d.at, true
}

func (s *ExpiryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunDue fires every deadline at or before the clock's now and returns how
// many fired. Callbacks run without the scheduler lock held.
func (s *ExpiryScheduler) RunDue() int {
	fired := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].at.After(s.clock.Now()) {
			s.mu.Unlock()
			return fired
		}
		d := heap.Pop(&s.queue).(*deadline)
		delete(s.index, d.key)
		s.mu.Unlock()

		s.fire(d.key, d.at)
		fired++
	}
}

// Run sleeps until the earliest deadline, fires what is due and repeats
// until ctx is done.
func (s *ExpiryScheduler) Run(ctx context.Context) {
	const idle = time.Minute
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		s.RunDue()

		wait := idle
		s.mu.Lock()
		if len(s.queue) > 0 {
			wait = s.queue[0].at.Sub(s.clock.Now())
		}
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// Clear drops every pending deadline.
func (s *ExpiryScheduler) Clear() {
	s.mu.Lock()
	s.queue = nil
	s.index = make(map[ExpiryKey]*deadline)
	s.mu.Unlock()
}

func (s *ExpiryScheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

type deadlineQueue []*deadline

func (q deadlineQueue) Len() int           { return len(q) }
func (q deadlineQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q deadlineQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].pos = i
	q[j].pos = j
}

func (q *deadlineQueue) Push(x interface{}) {
	d := x.(*deadline)
	d.pos = len(*q)
	*q = append(*q, d)
}

func (q *deadlineQueue) Pop() interface{} {
	old := *q
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	d.pos = -1
	*q = old[:n-1]
	return d
}
