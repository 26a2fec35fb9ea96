package memorylimiter

import (
	"sync"
	"time"
)

// Limit allows at most Limit events per Window.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter is an in-memory sliding-window limiter keyed by an arbitrary
// string. Used to bound forced JWKS refreshes per issuer.
type Limiter struct {
	mu      sync.Mutex
	limit   Limit
	now     func() time.Time
	buckets map[string][]time.Time
}

// New builds a limiter. A non-positive limit or window allows one event per
// 30 seconds.
func New(limit Limit) *Limiter {
	if limit.Limit <= 0 || limit.Window <= 0 {
		limit = Limit{Limit: 1, Window: 30 * time.Second}
	}
	return &Limiter{limit: limit, now: time.Now, buckets: make(map[string][]time.Time)}
}

// WithClock replaces the time source (tests).
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow records an event for key and reports whether it fits in the window.
// Denied events are not recorded. A nil limiter allows everything.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	windowStart := now.Add(-l.limit.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.buckets[key]
	i := 0
	for i < len(ts) && !ts[i].After(windowStart) {
		i++
	}
	ts = ts[i:]

	if len(ts) >= l.limit.Limit {
		l.buckets[key] = ts
		return false
	}
	l.buckets[key] = append(ts, now)
	return true
}
