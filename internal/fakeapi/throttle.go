package fakeapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	errThrottled           = errors.New("login throttled")
	errThrottleUnavailable = errors.New("throttle store unavailable")
)

// ThrottleConfig limits failed logins per email with Redis fixed windows.
type ThrottleConfig struct {
	Redis       redis.UniversalClient
	Prefix      string
	MaxAttempts int
	Window      time.Duration
}

type throttle struct {
	redis  redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

func newThrottle(cfg ThrottleConfig) *throttle {
	if cfg.Redis == nil {
		return nil
	}
	t := &throttle{redis: cfg.Redis, prefix: cfg.Prefix, max: cfg.MaxAttempts, window: cfg.Window}
	if t.prefix == "" {
		t.prefix = "fakeapi:login"
	}
	if t.max <= 0 {
		t.max = 5
	}
	if t.window <= 0 {
		t.window = time.Minute
	}
	return t
}

func (t *throttle) key(email string) string {
	return t.prefix + ":" + strings.ToLower(email)
}

// check reports errThrottled once the window's budget is spent, along with
// the time left in the window.
func (t *throttle) check(ctx context.Context, email string) (time.Duration, error) {
	if t == nil {
		return 0, nil
	}
	count, err := t.redis.Get(ctx, t.key(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", errThrottleUnavailable, err)
	}
	if count < int64(t.max) {
		return 0, nil
	}
	ttl, err := t.redis.TTL(ctx, t.key(email)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errThrottleUnavailable, err)
	}
	return ttl, errThrottled
}

func (t *throttle) fail(ctx context.Context, email string) error {
	if t == nil {
		return nil
	}
	key := t.key(email)
	count, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errThrottleUnavailable, err)
	}
	// Fixed window: only the first failure sets the expiry.
	if count == 1 {
		if err := t.redis.Expire(ctx, key, t.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", errThrottleUnavailable, err)
		}
	}
	return nil
}

func (t *throttle) reset(ctx context.Context, email string) error {
	if t == nil {
		return nil
	}
	if err := t.redis.Del(ctx, t.key(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errThrottleUnavailable, err)
	}
	return nil
}
