package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the identity under <prefix>:uid, <prefix>:at and
// <prefix>:rt with the cookie lifetimes.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore binds a store to client. prefix defaults to "authsync:identity".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "authsync:identity"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(suffix string) string {
	return s.prefix + ":" + suffix
}

func (s *RedisStore) get(ctx context.Context, suffix string) (string, bool, error) {
	v, err := s.redis.Get(ctx, s.key(suffix)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, v != "", nil
}

func (s *RedisStore) UserID(ctx context.Context) (string, bool, error) {
	return s.get(ctx, "uid")
}

func (s *RedisStore) AccessToken(ctx context.Context) (string, bool, error) {
	return s.get(ctx, "at")
}

func (s *RedisStore) RefreshToken(ctx context.Context) (string, bool, error) {
	return s.get(ctx, "rt")
}

func (s *RedisStore) Persist(ctx context.Context, c Credentials) error {
	_, err := s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		if c.UserID != "" {
			p.Set(ctx, s.key("uid"), c.UserID, UserIDTTL)
		}
		if c.AccessToken != "" {
			p.Set(ctx, s.key("at"), c.AccessToken, AccessTokenTTL)
		}
		if c.RefreshToken != "" {
			p.Set(ctx, s.key("rt"), c.RefreshToken, RefreshTokenTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key("uid"), s.key("at"), s.key("rt")).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
