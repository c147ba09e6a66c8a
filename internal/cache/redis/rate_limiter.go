package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
	"github.com/alanyoungcy/spreadwatch/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/multi_window.lua
var multiWindowLua string

// waitBuffer pads the wait reported by the script.
const waitBuffer = 100 * time.Millisecond

// RateLimiter is a domain.CallGate that shares the vendor budget across
// processes. Each window is a sorted set of call times; one Lua script
// checks and records all windows atomically.
type RateLimiter struct {
	rdb     *redis.Client
	script  *redis.Script
	name    string
	windows []ratelimit.Window
	now     func() time.Time
	member  func() string
}

// NewRateLimiter creates a RateLimiter for the named budget. With no
// windows it enforces ratelimit.DefaultWindows.
func NewRateLimiter(c *Client, name string, windows []ratelimit.Window) *RateLimiter {
	if len(windows) == 0 {
		windows = ratelimit.DefaultWindows
	}
	return &RateLimiter{
		rdb:     c.Underlying(),
		script:  redis.NewScript(multiWindowLua),
		name:    name,
		windows: windows,
		now:     time.Now,
		member:  uuid.NewString,
	}
}

var _ domain.CallGate = (*RateLimiter)(nil)

func (rl *RateLimiter) keys() []string {
	keys := make([]string, len(rl.windows))
	for i, w := range rl.windows {
		keys[i] = fmt.Sprintf("ratelimit:%s:%s", rl.name, w.Span)
	}
	return keys
}

// TryAcquire records a call if every window has room. Otherwise it returns
// how long until the tightest window frees a slot.
func (rl *RateLimiter) TryAcquire(ctx context.Context) (bool, time.Duration, error) {
	args := []any{rl.now().UnixMicro(), rl.member()}
	for _, w := range rl.windows {
		args = append(args, w.Span.Microseconds(), w.Limit)
	}

	res, err := rl.script.Run(ctx, rl.rdb, rl.keys(), args...).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", rl.name, err)
	}
	if len(res) < 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected result length %d", rl.name, len(res))
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	return false, time.Duration(res[1])*time.Microsecond + waitBuffer, nil
}

// Wait blocks until the shared budget admits a call.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait, err := rl.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", rl.name, ctx.Err())
		case <-timer.C:
		}
	}
}
