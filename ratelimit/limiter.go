// Package ratelimit implements a fixed-window request limiter on redis and
// the echo middleware that applies it to the expensive API surfaces.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The INCR and EXPIRE must be atomic so the first request of a window always
// arms the TTL.
var windowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("TTL", KEYS[1])
return {current, ttl}
`)

// Identity classes. Authenticated callers get the higher budget.
const (
	IdentityAuth  = "auth"
	IdentityGuest = "guest"
)

// Result is the outcome of one limiter check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetEpoch int64
	RetryAfter int
}

// Limiter counts requests per (scope, identity) bucket in fixed windows.
type Limiter struct {
	rdb        redis.UniversalClient
	window     time.Duration
	authLimit  int
	guestLimit int
}

// NewLimiter builds a limiter over an existing redis client.
func NewLimiter(rdb redis.UniversalClient, window time.Duration, authLimit, guestLimit int) *Limiter {
	return &Limiter{
		rdb:        rdb,
		window:     window,
		authLimit:  authLimit,
		guestLimit: guestLimit,
	}
}

// Check counts one request against the bucket and reports whether it fits
// the window budget. Errors are returned so the caller can fail open.
func (l *Limiter) Check(ctx context.Context, scope, identityType, identity string) (*Result, error) {
	limit := l.guestLimit
	if identityType == IdentityAuth {
		limit = l.authLimit
	}

	key := fmt.Sprintf("ratelimit:%s:%s:%s", scope, identityType, identity)
	windowSeconds := int(l.window.Seconds())

	raw, err := windowScript.Run(ctx, l.rdb, []string{key}, windowSeconds).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("rate limit script returned %d values", len(raw))
	}

	current := int(raw[0].(int64))
	ttl := int(raw[1].(int64))
	if ttl <= 0 {
		ttl = windowSeconds
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:    current <= limit,
		Limit:      limit,
		Remaining:  remaining,
		ResetEpoch: time.Now().Unix() + int64(ttl),
		RetryAfter: ttl,
	}, nil
}
