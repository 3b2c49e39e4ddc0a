package relay

import (
	"sync"
	"time"
)

const (
	defaultInboundEvents = 600
	defaultInboundWindow = 10 * time.Second
)

// inboundLimiter is a per-connection sliding-window limiter guarding against
// a misbehaving relay flooding the event pipeline.
type inboundLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

func newInboundLimiter(limit int, window time.Duration) *inboundLimiter {
	if limit <= 0 {
		limit = defaultInboundEvents
	}
	if window <= 0 {
		window = defaultInboundWindow
	}
	return &inboundLimiter{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be admitted.
func (r *inboundLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}
