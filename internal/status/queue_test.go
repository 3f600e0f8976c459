package status

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives a Queue deterministically: sleeping advances time instead
// of waiting.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type applied struct {
	id   string
	text string
	at   time.Time
}

func newTestQueue(min time.Duration) (*Queue, *fakeClock, func() []applied) {
	clock := newFakeClock()
	var mu sync.Mutex
	var log []applied
	q := NewQueue(min, nil)
	q.now = clock.Now
	q.sleep = clock.Sleep
	q.apply = func(id, text string) {
		mu.Lock()
		log = append(log, applied{id: id, text: text, at: clock.Now()})
		mu.Unlock()
	}
	snapshot := func() []applied {
		mu.Lock()
		defer mu.Unlock()
		return append([]applied(nil), log...)
	}
	return q, clock, snapshot
}

func TestEnqueueAppliesInFIFOOrder(t *testing.T) {
	q, _, log := newTestQueue(time.Second)
	q.Enqueue("ind", "Thinking...")
	q.Enqueue("ind", "Searching the web (1/5)")
	q.Enqueue("ind", "Done!")
	q.Wait()

	got := log()
	require.Len(t, got, 3)
	assert.Equal(t, "Thinking...", got[0].text)
	assert.Equal(t, "Searching the web (1/5)", got[1].text)
	assert.Equal(t, "Done!", got[2].text)
}

func TestPacingLowerBound(t *testing.T) {
	const min = 1500 * time.Millisecond
	q, _, log := newTestQueue(min)
	for i := 0; i < 5; i++ {
		q.Enqueue("ind", "update")
	}
	q.Wait()

	got := log()
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		gap := got[i].at.Sub(got[i-1].at)
		assert.GreaterOrEqualf(t, gap, min, "gap %d->%d was %v", i-1, i, gap)
	}
}

func TestFirstUpdateAppliesWithoutDelay(t *testing.T) {
	q, clock, log := newTestQueue(time.Minute)
	start := clock.Now()
	q.Enqueue("ind", "hello")
	q.Wait()

	got := log()
	require.Len(t, got, 1)
	assert.Equal(t, start, got[0].at)
}

func TestPacingIsGlobalAcrossIndicators(t *testing.T) {
	const min = time.Second
	q, _, log := newTestQueue(min)
	q.Enqueue("a", "one")
	q.Enqueue("b", "two")
	q.Wait()

	got := log()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].id)
	assert.Equal(t, "b", got[1].id)
	assert.GreaterOrEqual(t, got[1].at.Sub(got[0].at), min)
}

func TestEnqueueWhileDrainingIsNotDropped(t *testing.T) {
	q, _, log := newTestQueue(10 * time.Millisecond)
	inner := q.apply
	q.apply = func(id, text string) {
		inner(id, text)
		if text == "first" {
			q.Enqueue(id, "injected")
		}
	}
	q.Enqueue("ind", "first")
	q.Wait()

	got := log()
	require.Len(t, got, 2)
	assert.Equal(t, "injected", got[1].text)
}

func TestRealClockSmoke(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	q := NewQueue(time.Millisecond, func(_, text string) {
		mu.Lock()
		texts = append(texts, text)
		mu.Unlock()
	})
	for i := 0; i < 3; i++ {
		q.Enqueue("ind", "x")
	}
	q.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, texts, 3)
}
