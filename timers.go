package brandloom

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// timerSet is a keyed map of cancellable one-shot timers. Every entity with a
// deadline (typing indicator, cursor, notification, debounce flush) owns one
// key; the invariant is that removing the entity cancels its timer, so the
// callback can never fire against stale state.
type timerSet struct {
	clock  clockz.Clock
	mu     sync.Mutex
	armed  map[string]chan struct{}
	closed bool
}

func newTimerSet(clock clockz.Clock) *timerSet {
	return &timerSet{clock: clock, armed: make(map[string]chan struct{})}
}

// arm schedules fn to run after d, replacing any timer already armed for key.
// The entry is removed before fn runs, so fn may re-arm the same key.
func (ts *timerSet) arm(key string, d time.Duration, fn func()) {
	ts.mu.Lock()
	if ts.closed {
		ts.mu.Unlock()
		return
	}
	if prev, ok := ts.armed[key]; ok {
		close(prev)
	}
	cancel := make(chan struct{})
	ts.armed[key] = cancel
	ts.mu.Unlock()

	go func() {
		select {
		case <-ts.clock.After(d):
			ts.mu.Lock()
			// Only fire if we are still the armed timer for this key.
			if cur, ok := ts.armed[key]; !ok || cur != cancel {
				ts.mu.Unlock()
				return
			}
			delete(ts.armed, key)
			ts.mu.Unlock()
			fn()
		case <-cancel:
		}
	}()
}

// cancel stops the timer for key. Reports whether one was armed.
func (ts *timerSet) cancel(key string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	c, ok := ts.armed[key]
	if ok {
		close(c)
		delete(ts.armed, key)
	}
	return ok
}

// cancelAll stops every timer and rejects future arms.
func (ts *timerSet) cancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for k, c := range ts.armed {
		close(c)
		delete(ts.armed, k)
	}
	ts.closed = true
}

// size returns the number of armed timers.
func (ts *timerSet) size() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.armed)
}
