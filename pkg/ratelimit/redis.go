package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/authcore/pkg/clockx"
)

// allowScript increments the counter and starts the window on the first
// hit. A key that somehow lost its TTL gets one again instead of locking
// the caller out forever.
var allowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// Redis keeps counters in Redis so every instance shares them.
type Redis struct {
	client redis.Scripter
	prefix string
	clock  clockx.Clock
}

func NewRedis(client redis.Scripter, prefix string, clock clockx.Clock) *Redis {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &Redis{client: client, prefix: prefix, clock: clockx.Or(clock)}
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, win time.Duration) (Result, error) {
	if err := validate(limit, win); err != nil {
		return Result{}, err
	}

	vals, err := allowScript.Run(ctx, r.client, []string{r.prefix + key}, win.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("ratelimit: redis: unexpected reply %v", vals)
	}

	count := int(vals[0])
	return Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   r.clock.Now().Add(time.Duration(vals[1]) * time.Millisecond),
	}, nil
}
