package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channelName = "auth_sync_channel"

// RedisOpener returns an Opener publishing on the Redis Pub/Sub channel
// <prefix>:auth_sync_channel. Redis delivers a publisher's own messages back
// to it; the channel drops them by origin.
func RedisOpener(client redis.UniversalClient, prefix string) Opener {
	if prefix == "" {
		prefix = "authsync"
	}
	name := prefix + ":" + channelName

	return func(ctx context.Context, _ string) (Transport, error) {
		if client == nil {
			return nil, ErrTransportUnavailable
		}
		sub := client.Subscribe(ctx, name)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}

		t := &redisTransport{
			client: client,
			name:   name,
			sub:    sub,
			ch:     make(chan []byte, defaultBusBuffer),
			done:   make(chan struct{}),
		}
		t.wg.Add(1)
		go t.run()
		return t, nil
	}
}

type redisTransport struct {
	client redis.UniversalClient
	name   string
	sub    *redis.PubSub
	ch     chan []byte
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func (t *redisTransport) run() {
	defer t.wg.Done()
	defer close(t.ch)

	msgs := t.sub.Channel()
	for {
		select {
		case <-t.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case t.ch <- []byte(msg.Payload):
			case <-t.done:
				return
			}
		}
	}
}

func (t *redisTransport) Publish(ctx context.Context, payload []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	if err := t.client.Publish(ctx, t.name, payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}

func (t *redisTransport) Messages() <-chan []byte {
	return t.ch
}

func (t *redisTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.sub.Close()
		t.wg.Wait()
	})
	return err
}
