// Package ratelimit bounds how often a key (a requester IP) may hit an
// endpoint within a fixed window.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a fixed-window counter.
type Limiter interface {
	Allow(key string, limit int) Decision
}

// InMemoryLimiter keeps its windows in process memory. Expired windows are
// reset when their key is seen again and swept at most once per window.
type InMemoryLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	now       func() time.Time
	items     map[string]window
	nextSweep time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// NewInMemory creates a limiter. A non-positive window defaults to one minute.
func NewInMemory(w time.Duration) *InMemoryLimiter {
	if w <= 0 {
		w = time.Minute
	}
	return &InMemoryLimiter{
		window: w,
		now:    time.Now,
		items:  make(map[string]window),
	}
}

func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		l.evictExpired(now)
		l.nextSweep = now.Add(l.window)
	}
	curr, ok := l.items[key]
	if !ok || now.After(curr.resetAt) {
		curr = window{resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr

	return decide(curr.count, limit, curr.resetAt)
}

func (l *InMemoryLimiter) evictExpired(now time.Time) {
	for k, v := range l.items {
		if now.After(v.resetAt) {
			delete(l.items, k)
		}
	}
}

func decide(count, limit int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
