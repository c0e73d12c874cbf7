// Package ratelimit counts attempts per key in Redis using fixed windows.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var windowScript = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

// Limiter allows at most Limit attempts per key within Window.
type Limiter struct {
	prefix string
	limit  int64
	window time.Duration
	run    func(ctx context.Context, key string, windowMs int64) (any, error)
}

// New returns a Limiter backed by rdb. A nil client yields a limiter that
// allows everything.
func New(rdb redis.Scripter, prefix string, limit int, window time.Duration) *Limiter {
	l := &Limiter{prefix: prefix, limit: int64(limit), window: window}
	if rdb != nil {
		l.run = func(ctx context.Context, key string, windowMs int64) (any, error) {
			return windowScript.Run(ctx, rdb, []string{key}, windowMs).Result()
		}
	}
	return l
}

// Allow records one attempt for key and reports whether it is within the
// limit. Errors from Redis are returned with allowed set to true; the caller
// decides whether to fail open.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.run == nil || l.limit <= 0 {
		return true, nil
	}

	v, err := l.run(ctx, l.prefix+":"+key, l.window.Milliseconds())
	if err != nil {
		return true, fmt.Errorf("rate limit script: %w", err)
	}

	n, err := asInt64(v)
	if err != nil {
		return true, err
	}
	return n <= l.limit, nil
}

func asInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	}
	return 0, fmt.Errorf("unexpected script result %#v", v)
}
