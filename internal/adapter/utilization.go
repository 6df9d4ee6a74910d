package adapter

import (
	"sync"
	"time"
)

// utilizationTracker measures the share of wall time during which at least
// one request was in flight. The ratio is computed over a report cycle and
// reset every time it is sampled.
type utilizationTracker struct {
	mu sync.Mutex

	started bool
	active  int64

	idle           bool
	idleStartedAt  time.Time
	totalIdle      time.Duration
	cycleStartedAt time.Time
}

// incr marks a request start and returns the new in-flight count.
func (t *utilizationTracker) incr(now time.Time) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startLocked(now)
	if t.active == 0 && t.idle {
		t.totalIdle += now.Sub(t.idleStartedAt)
		t.idle = false
	}
	t.active++
	return t.active
}

// decr marks a request end and returns the new in-flight count. ok is false
// when no request was in flight, in which case nothing changes.
func (t *utilizationTracker) decr(now time.Time) (active int64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == 0 {
		return 0, false
	}
	t.active--
	if t.active == 0 {
		t.idle = true
		t.idleStartedAt = now
	}
	return t.active, true
}

// pct returns the busy percentage (0-100) since the previous call and starts
// a new cycle. ok is false until the first request has been seen.
func (t *utilizationTracker) pct(now time.Time) (pct int64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return 0, false
	}

	cycle := now.Sub(t.cycleStartedAt)
	var idleRatio float64
	if cycle > 0 {
		if t.idle {
			t.totalIdle += now.Sub(t.idleStartedAt)
			t.idleStartedAt = now
		}
		idleRatio = float64(t.totalIdle) / float64(cycle)
	}

	t.totalIdle = 0
	t.cycleStartedAt = now
	return int64((1.0 - idleRatio) * 100.0), true
}

func (t *utilizationTracker) inFlight() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *utilizationTracker) startLocked(now time.Time) {
	if t.started {
		return
	}
	t.started = true
	t.idle = true
	t.idleStartedAt = now
	t.cycleStartedAt = now
	t.totalIdle = 0
}
