package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces limiter keys in a shared Redis.
const DefaultRedisKeyPrefix = "ratelimit:"

// fixedWindowScript runs the whole read-decide-write atomically on the server.
// Each window is a hash {count, reset_ms}. reset_ms is fixed when the window
// opens, so every decision in a window reports the same reset time.
// KEYS[1] = window key, ARGV[1] = now in unix ms, ARGV[2] = window in ms,
// ARGV[3] = max requests.
// Returns {allowed (0|1), count, reset unix ms}.
var fixedWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local state = redis.call('HMGET', KEYS[1], 'count', 'reset_ms')
local count = tonumber(state[1])
local reset = tonumber(state[2])
if not count or not reset or now >= reset then
  reset = now + window
  redis.call('HSET', KEYS[1], 'count', 1, 'reset_ms', reset)
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, 1, reset}
end
if count >= tonumber(ARGV[3]) then
  return {0, count, reset}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, reset}
`)

// RedisLimiter is a fixed-window limiter whose counters live in Redis, so
// several service instances share one window per identifier. Expired windows
// are removed by Redis key expiry.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	clock  Clock
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithKeyPrefix overrides DefaultRedisKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisLimiter) {
		r.prefix = prefix
	}
}

// WithRedisClock sets the clock that opens and closes windows.
func WithRedisClock(clock Clock) RedisOption {
	return func(r *RedisLimiter) {
		r.clock = clock
	}
}

// NewRedisLimiter wraps an existing client. The limiter owns the client and
// closes it on Close.
func NewRedisLimiter(client redis.UniversalClient, opts ...RedisOption) *RedisLimiter {
	r := &RedisLimiter{
		client: client,
		prefix: DefaultRedisKeyPrefix,
		clock:  SystemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db, poolSize int) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Check decides whether a request for identifier is allowed under policy.
func (r *RedisLimiter) Check(ctx context.Context, identifier string, policy Policy) (Decision, error) {
	if err := validateRequest(identifier, policy); err != nil {
		return Decision{}, err
	}
	if policy.Window < time.Millisecond {
		return Decision{}, fmt.Errorf("%w: redis windows need millisecond resolution, got %s", ErrInvalidPolicy, policy.Window)
	}

	now := r.clock.Now()
	res, err := fixedWindowScript.Run(ctx, r.client,
		[]string{r.prefix + identifier},
		now.UnixMilli(), policy.Window.Milliseconds(), policy.MaxRequests,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}

	allowed := res[0] == 1
	count := int(res[1])
	resetAt := time.UnixMilli(res[2]).In(now.Location())

	d := Decision{
		Allowed: allowed,
		Limit:   policy.MaxRequests,
		ResetAt: resetAt,
	}
	if allowed {
		d.Remaining = policy.MaxRequests - count
	} else {
		d.RetryAfter = resetAt.Sub(now)
	}
	return d, nil
}

// Close closes the underlying Redis client.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
