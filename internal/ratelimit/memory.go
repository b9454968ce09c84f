package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// defaultMaxKeys bounds the memory limiter so a flood of distinct client
// addresses cannot grow it without limit.
const defaultMaxKeys = 10000

// ErrCapacityExceeded is returned when the memory limiter tracks too many
// live windows to open another.
var ErrCapacityExceeded = errors.New("rate limiter capacity exceeded")

// MemoryLimiterConfig configures a MemoryLimiter. Zero values select defaults.
type MemoryLimiterConfig struct {
	Now     func() time.Time
	MaxKeys int
}

// MemoryLimiter keeps one counter per key in process memory.
// It is safe for concurrent use.
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
	maxKeys int
}

type window struct {
	count int
	end   time.Time
}

// NewMemoryLimiter creates an empty limiter.
func NewMemoryLimiter(cfg MemoryLimiterConfig) *MemoryLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	return &MemoryLimiter{
		now:     cfg.Now,
		windows: make(map[string]*window),
		maxKeys: cfg.MaxKeys,
	}
}

// Allow implements Limiter.
func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, span time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if ok && !now.Before(w.end) {
		delete(m.windows, key)
		ok = false
	}
	if !ok {
		if len(m.windows) >= m.maxKeys {
			m.evictExpired(now)
		}
		if len(m.windows) >= m.maxKeys {
			return Decision{}, ErrCapacityExceeded
		}
		w = &window{end: now.Add(span)}
		m.windows[key] = w
	}

	if w.count < limit {
		w.count++
		return Decision{Allowed: true, Limit: limit, Remaining: limit - w.count, ResetAt: w.end}, nil
	}
	return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: w.end}, nil
}

// Len returns the number of tracked windows, expired or not.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *MemoryLimiter) evictExpired(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.end) {
			delete(m.windows, key)
		}
	}
}
