package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultLimiterIdle = 3 * time.Minute

// clientLimiter keeps one token bucket per client address. Buckets idle for
// longer than idle are dropped; idle is never shorter than a full refill, so
// a recreated bucket grants nothing the old one would not have.
type clientLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientBucket
	rps       float64
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	idle := defaultLimiterIdle
	if refill := time.Duration(float64(burst) / rps * float64(time.Second)); refill > idle {
		idle = refill
	}
	return &clientLimiter{
		limiters:  make(map[string]*clientBucket),
		rps:       rps,
		burst:     burst,
		idle:      idle,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// get returns or creates the bucket for client
func (l *clientLimiter) get(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}

	bucket, exists := l.limiters[client]
	if !exists {
		bucket = &clientBucket{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.limiters[client] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter
}

// sweep drops buckets idle for longer than l.idle (caller must hold the lock)
func (l *clientLimiter) sweep(now time.Time) {
	for client, bucket := range l.limiters {
		if now.Sub(bucket.lastSeen) > l.idle {
			delete(l.limiters, client)
		}
	}
	l.lastSweep = now
}

// Allow reports whether client may make a request now
func (l *clientLimiter) Allow(client string) bool {
	return l.get(client).Allow()
}

// Len returns the number of tracked clients
func (l *clientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
