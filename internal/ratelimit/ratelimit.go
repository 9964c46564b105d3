// Package ratelimit throttles inbound messages per sender so one noisy
// chat cannot monopolize the backend.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default allowance: a short burst of messages, then one every two seconds.
const (
	DefaultPerSec = 0.5
	DefaultBurst  = 3
)

// idle limiters are dropped after this long without a message.
const staleAfter = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per sender key.
type Limiter struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	senders map[string]*entry
}

// New builds a Limiter. Non-positive arguments fall back to the defaults.
func New(perSec float64, burst int) *Limiter {
	if perSec <= 0 {
		perSec = DefaultPerSec
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &Limiter{
		perSec:  rate.Limit(perSec),
		burst:   burst,
		senders: make(map[string]*entry),
	}
}

// Allow reports whether the sender may submit a message now. It never
// blocks; a rejected message should be answered with a retry notice.
func (l *Limiter) Allow(sender string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.senders[sender]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.perSec, l.burst)}
		l.senders[sender] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// Sweep drops buckets that have been idle long enough that their state
// no longer matters. Call it periodically from the serving loop.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	for key, e := range l.senders {
		if e.lastSeen.Before(cutoff) {
			delete(l.senders, key)
		}
	}
}

// Len returns the number of tracked senders.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.senders)
}
