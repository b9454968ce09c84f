package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/tierlist-core/internal/infrastructure/config"
)

// Backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key within a fixed window.
type Limiter interface {
	// Allow records one request for key. A limit <= 0 always allows.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// New builds the limiter selected by cfg. The returned close function
// releases backend connections and is never nil.
func New(cfg config.RateLimitConfig) (Limiter, func() error, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryLimiter(MemoryLimiterConfig{}), func() error { return nil }, nil
	case BackendRedis:
		l, err := NewRedisLimiter(RedisLimiterConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}
