package alert

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type destination struct {
	lim      *rate.Limiter
	noticed  bool // a rate limit notice went out for the current limited window
	lastSeen time.Time
}

// Limiter is a per-destination token bucket. Every message a destination
// receives draws from the same bucket.
type Limiter struct {
	mu     sync.Mutex
	every  rate.Limit
	burst  int
	bucket map[string]*destination

	// Destinations untouched for idle have refilled and are dropped; a fresh
	// bucket behaves the same.
	idle      time.Duration
	lastSweep time.Time
}

// NewLimiter allows burst messages at once and perMinute sustained per
// destination. perMinute <= 0 disables limiting.
func NewLimiter(burst int, perMinute float64) *Limiter {
	every := rate.Inf
	if perMinute > 0 {
		every = rate.Limit(perMinute / 60)
	}
	if burst < 1 {
		burst = 1
	}
	idle := time.Minute
	if every != rate.Inf {
		if refill := time.Duration(float64(burst) / float64(every) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &Limiter{every: every, burst: burst, bucket: make(map[string]*destination), idle: idle}
}

// sweepLocked evicts idle destinations at most once per idle period.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for k, d := range l.bucket {
		if now.Sub(d.lastSeen) >= l.idle {
			delete(l.bucket, k)
		}
	}
}

// Len is the number of destinations currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bucket)
}

// Allow consumes one token for dest. When it refuses, notify is true only for
// the first refusal since dest was last allowed.
func (l *Limiter) Allow(dest string, now time.Time) (allowed, notify bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)
	d, ok := l.bucket[dest]
	if !ok {
		d = &destination{lim: rate.NewLimiter(l.every, l.burst)}
		l.bucket[dest] = d
	}
	d.lastSeen = now
	if d.lim.AllowN(now, 1) {
		d.noticed = false
		return true, false
	}
	if d.noticed {
		return false, false
	}
	d.noticed = true
	return false, true
}
