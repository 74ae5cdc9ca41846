package processor

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterPruneThreshold = 1024

// userLocks serializes work per user while letting different users proceed
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock blocks until userID is free and returns the matching unlock
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// userLimiter is a token bucket per user for screenshot submissions
type userLimiter struct {
	mu       sync.Mutex
	every    rate.Limit
	burst    int
	idle     time.Duration
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newUserLimiter allows burst submissions, refilled one per interval. A
// non-positive interval disables limiting.
func newUserLimiter(interval time.Duration, burst int) *userLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &userLimiter{
		every:    rate.Inf,
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
	if interval > 0 {
		l.every = rate.Every(interval)
		l.idle = interval * time.Duration(burst)
	}
	return l
}

func (l *userLimiter) allow(userID string, now time.Time) bool {
	if l.every == rate.Inf {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[userID]
	if !ok {
		if len(l.limiters) >= limiterPruneThreshold {
			l.pruneLocked(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.limiters[userID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// pruneLocked drops limiters idle long enough to have refilled completely
func (l *userLimiter) pruneLocked(now time.Time) {
	for id, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.idle {
			delete(l.limiters, id)
		}
	}
}
