package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// changeNotice is published on the changes channel after every write.
type changeNotice struct {
	Key     string `json:"k"`
	Value   string `json:"v,omitempty"`
	Removed bool   `json:"r,omitempty"`
	Writer  string `json:"w"`
}

// Redis is a Storage backed by plain keys plus a Pub/Sub change feed, so tab
// clients in different processes share one origin.
//
// Layout:
//   - <prefix>:kv:<key>  value
//   - <prefix>:changes   Pub/Sub channel carrying change notices
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	buffer int
}

// NewRedis creates a Redis-backed storage. An empty prefix defaults to "authsync".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "authsync"
	}
	return &Redis{redis: client, prefix: prefix, buffer: defaultWatchBuffer}
}

func (r *Redis) valueKey(key string) string {
	return r.prefix + ":kv:" + key
}

func (r *Redis) changesChannel() string {
	return r.prefix + ":changes"
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.redis.Get(ctx, r.valueKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, writer, key, value string) error {
	notice, err := json.Marshal(changeNotice{Key: key, Value: value, Writer: writer})
	if err != nil {
		return err
	}
	_, err = r.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.valueKey(key), value, 0)
		p.Publish(ctx, r.changesChannel(), notice)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, writer, key string) error {
	n, err := r.redis.Del(ctx, r.valueKey(key)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return nil
	}
	notice, err := json.Marshal(changeNotice{Key: key, Removed: true, Writer: writer})
	if err != nil {
		return err
	}
	if err := r.redis.Publish(ctx, r.changesChannel(), notice).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Watch subscribes to the change feed and returns once the subscription is
// confirmed, so writes made after Watch returns are never missed.
func (r *Redis) Watch(ctx context.Context, watcher, key string) (<-chan Change, error) {
	sub := r.redis.Subscribe(ctx, r.changesChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make(chan Change, r.buffer)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n changeNotice
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					continue
				}
				if n.Key != key || n.Writer == watcher {
					continue
				}
				select {
				case out <- Change{Key: n.Key, Value: n.Value, Removed: n.Removed, Writer: n.Writer}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
