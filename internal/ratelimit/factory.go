package ratelimit

import "go.uber.org/zap"

type Options struct {
	Config Config

	// Redis is nil when REDIS_ADDR is not configured
	Redis ScriptRunner

	UpstashURL   string
	UpstashToken string
}

// NewFromConfig builds the fallback chain: redis, upstash, then memory.
// The memory strategy is returned as well so housekeeping can sweep it.
func NewFromConfig(log *zap.Logger, opts Options) (*Limiter, *MemoryStrategy) {
	strategies := make([]Strategy, 0, 3)

	if opts.Redis != nil {
		strategies = append(strategies, NewRedisStrategy(opts.Redis, opts.Config))
	}
	if opts.UpstashURL != "" && opts.UpstashToken != "" {
		strategies = append(strategies, NewUpstashStrategy(opts.UpstashURL, opts.UpstashToken, opts.Config))
	}

	memory := NewMemoryStrategy(opts.Config)
	strategies = append(strategies, memory)

	return NewLimiter(log, strategies...), memory
}
