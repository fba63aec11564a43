package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Increments the counter and starts its expiry on the first hit of a window.
// Returns {count, pttl_ms}.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// ScriptRunner is satisfied by storage.RedisClient
type ScriptRunner interface {
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) *redis.Cmd
}

// RedisStrategy shares counters between replicas through Redis
type RedisStrategy struct {
	redis  ScriptRunner
	points int
	window time.Duration
	now    func() time.Time
}

func NewRedisStrategy(r ScriptRunner, cfg Config) *RedisStrategy {
	cfg = cfg.withDefaults()
	return &RedisStrategy{
		redis:  r,
		points: cfg.Points,
		window: cfg.Window,
		now:    time.Now,
	}
}

func (s *RedisStrategy) Name() string {
	return "redis"
}

func remoteKey(route, ip string) string {
	return fmt.Sprintf("rl:%s:%s", route, ip)
}

func (s *RedisStrategy) Decide(ctx context.Context, route, ip string) Decision {
	res, err := s.redis.RunScript(ctx, incrScript, []string{remoteKey(route, ip)}, s.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{Verdict: Indeterminate, Strategy: s.Name(), Err: err}
	}
	if len(res) != 2 {
		return Decision{Verdict: Indeterminate, Strategy: s.Name(), Err: fmt.Errorf("unexpected script reply: %v", res)}
	}

	count, ttl := res[0], res[1]
	verdict := Allow
	if count > int64(s.points) {
		verdict = Deny
	}

	return Decision{
		Verdict:   verdict,
		Strategy:  s.Name(),
		Limit:     s.points,
		Remaining: remaining(s.points, count),
		ResetAt:   s.now().Add(time.Duration(ttl) * time.Millisecond),
	}
}
