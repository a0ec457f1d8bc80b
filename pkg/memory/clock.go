package memory

import (
	"sync"
	"time"
)

/*
Clock hands out strictly increasing timestamps so records appended in the same
instant still sort in the order they were observed.
*/
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}

	return &Clock{now: now}
}

func (clock *Clock) Next() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()

	ts := clock.now().UTC()

	if !ts.After(clock.last) {
		ts = clock.last.Add(time.Microsecond)
	}

	clock.last = ts
	return ts
}

func (clock *Clock) Now() time.Time {
	return clock.now().UTC()
}

/*
Observe raises the floor for the next timestamp, used when a store reopens
with existing rows.
*/
func (clock *Clock) Observe(ts time.Time) {
	clock.mu.Lock()
	defer clock.mu.Unlock()

	if ts.After(clock.last) {
		clock.last = ts.UTC()
	}
}
