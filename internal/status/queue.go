// Package status serializes status-text updates onto a visible indicator,
// spacing consecutive changes so a burst of agent events does not flicker.
package status

import (
	"sync"
	"time"
)

const DefaultMinInterval = 1500 * time.Millisecond

// Update is one requested change to the indicator identified by ID.
type Update struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

// Queue applies updates in FIFO order, never dropping any, while keeping at
// least a minimum interval between consecutive applications. The pacing is
// global to the queue, not per indicator: during one request every perceived
// status change stays readably spaced.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []Update
	draining bool
	last     time.Time

	min   time.Duration
	apply func(id, text string)
	now   func() time.Time
	sleep func(time.Duration)
}

// NewQueue builds a queue that delivers updates through apply. A minInterval
// of zero or less selects the default.
func NewQueue(minInterval time.Duration, apply func(id, text string)) *Queue {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	q := &Queue{
		min:   minInterval,
		apply: apply,
		now:   time.Now,
		sleep: time.Sleep,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue records an update and starts the drain goroutine if none is
// running. It never blocks on the pacing delay.
func (q *Queue) Enqueue(id, text string) {
	q.mu.Lock()
	q.pending = append(q.pending, Update{ID: id, Text: text, CreatedAt: q.now()})
	if !q.draining {
		q.draining = true
		go q.drain()
	}
	q.mu.Unlock()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}
		u := q.pending[0]
		q.pending = q.pending[1:]
		last := q.last
		q.mu.Unlock()

		if !last.IsZero() {
			if elapsed := q.now().Sub(last); elapsed < q.min {
				q.sleep(q.min - elapsed)
			}
		}
		q.apply(u.ID, u.Text)

		q.mu.Lock()
		q.last = q.now()
		q.mu.Unlock()
	}
}

// Wait blocks until every update enqueued so far has been applied.
func (q *Queue) Wait() {
	q.mu.Lock()
	for q.draining || len(q.pending) > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
}
