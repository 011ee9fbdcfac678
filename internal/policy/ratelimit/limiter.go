// Package ratelimit implements per-client token buckets for the HTTP API.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

// Config holds rate limiter configuration.
type Config struct {
	RPS   float64
	Burst int
	// IdleTTL controls how long an unused client bucket is kept.
	IdleTTL time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages one token bucket per client key.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*entry
	rate      rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// New creates a new Limiter. A non-positive RPS disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	return &Limiter{
		limiters: make(map[string]*entry),
		rate:     r,
		burst:    burst,
		idleTTL:  ttl,
		now:      time.Now,
	}
}

// Allow reports whether the client identified by key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	l.sweepLocked(now)
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Len reports the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) >= l.idleTTL {
			delete(l.limiters, key)
		}
	}
}
