package ratelimit

import (
	"context"
	"sync"
	"time"
)

type record struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps fixed windows in process memory. Expired records are
// removed by Sweep, which Run calls periodically.
type MemoryLimiter struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*record
}

func NewMemoryLimiter(p Policy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:  p,
		now:     time.Now,
		records: make(map[string]*record),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok || !now.Before(rec.resetAt) {
		rec = &record{count: 1, resetAt: now.Add(l.policy.Window)}
		l.records[key] = rec
		return l.decision(true, rec), nil
	}
	if rec.count >= l.policy.Max {
		return l.decision(false, rec), nil
	}
	rec.count++
	return l.decision(true, rec), nil
}

func (l *MemoryLimiter) decision(allowed bool, rec *record) Decision {
	remaining := l.policy.Max - rec.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Limit:     l.policy.Max,
		Remaining: remaining,
		ResetAt:   rec.resetAt,
	}
}

// Sweep drops every record whose window has ended and returns how many were removed.
func (l *MemoryLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, rec := range l.records {
		if !now.Before(rec.resetAt) {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}

// Len is the number of identifiers currently tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Run sweeps every interval until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep(l.now())
		}
	}
}
