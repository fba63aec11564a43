package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	start time.Time
	count int
}

// MemoryStrategy is a process-local fixed window counter.
// Bursts at window boundaries are allowed; state is lost on restart and is
// not shared between replicas.
type MemoryStrategy struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	points  int
	window  time.Duration
	now     func() time.Time
}

func NewMemoryStrategy(cfg Config) *MemoryStrategy {
	cfg = cfg.withDefaults()
	return &MemoryStrategy{
		buckets: make(map[string]*bucket),
		points:  cfg.Points,
		window:  cfg.Window,
		now:     time.Now,
	}
}

func (m *MemoryStrategy) Name() string {
	return "memory"
}

func bucketKey(route, ip string) string {
	return route + "::" + ip
}

// Decide never returns Indeterminate
func (m *MemoryStrategy) Decide(_ context.Context, route, ip string) Decision {
	key := bucketKey(route, ip)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, exists := m.buckets[key]

	// First request, or the previous window is over
	if !exists || now.Sub(b.start) > m.window {
		m.buckets[key] = &bucket{start: now, count: 1}
		return m.decision(Allow, 1, now)
	}

	if b.count < m.points {
		b.count++
		return m.decision(Allow, b.count, b.start)
	}

	return m.decision(Deny, b.count, b.start)
}

func (m *MemoryStrategy) decision(v Verdict, count int, start time.Time) Decision {
	return Decision{
		Verdict:   v,
		Strategy:  m.Name(),
		Limit:     m.points,
		Remaining: remaining(m.points, int64(count)),
		ResetAt:   start.Add(m.window),
	}
}

// Sweep drops buckets whose window has elapsed and returns how many went
func (m *MemoryStrategy) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, b := range m.buckets {
		if now.Sub(b.start) > m.window {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

func (m *MemoryStrategy) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Reset clears every bucket and returns how many were dropped
func (m *MemoryStrategy) Reset() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.buckets)
	m.buckets = make(map[string]*bucket)
	return n
}
