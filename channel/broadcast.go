package channel

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBusBuffer = 64

// Bus is an in-process broadcast medium: every transport opened on the same
// Bus receives what the others publish, never its own payloads.
type Bus struct {
	mu      sync.RWMutex
	members map[*busTransport]struct{}
	buffer  int
	dropped atomic.Uint64
}

// NewBus creates a broadcast medium with the given per-member buffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBusBuffer
	}
	return &Bus{members: make(map[*busTransport]struct{}), buffer: buffer}
}

// Opener returns an Opener that joins this bus.
func (b *Bus) Opener() Opener {
	return func(_ context.Context, tabID string) (Transport, error) {
		if b == nil {
			return nil, ErrTransportUnavailable
		}
		t := &busTransport{bus: b, tabID: tabID, ch: make(chan []byte, b.buffer)}
		b.mu.Lock()
		b.members[t] = struct{}{}
		b.mu.Unlock()
		return t, nil
	}
}

// Dropped reports payloads discarded because a member's buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Members reports the number of open transports.
func (b *Bus) Members() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.members)
}

func (b *Bus) publish(from *busTransport, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for m := range b.members {
		if m == from {
			continue
		}
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case m.ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

type busTransport struct {
	bus    *Bus
	tabID  string
	ch     chan []byte
	closed atomic.Bool
}

func (t *busTransport) Publish(_ context.Context, payload []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.bus.publish(t, payload)
	return nil
}

func (t *busTransport) Messages() <-chan []byte {
	return t.ch
}

func (t *busTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.bus.mu.Lock()
	delete(t.bus.members, t)
	t.bus.mu.Unlock()
	close(t.ch)
	return nil
}
