package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/William-g7/Airnest-sub001/storage"
)

// LastEventKey is the storage key holding the most recent serialized event.
// It is a relay, not a log: only the latest value matters.
const LastEventKey = "auth_last_event"

// StorageOpener returns the fallback Opener. Publishing writes the payload to
// LastEventKey; other tabs receive it through the storage change feed. The
// writer never receives its own write.
func StorageOpener(s storage.Storage) Opener {
	return func(ctx context.Context, tabID string) (Transport, error) {
		if s == nil {
			return nil, ErrTransportUnavailable
		}
		watchCtx, cancel := context.WithCancel(context.Background())
		changes, err := s.Watch(watchCtx, tabID, LastEventKey)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}

		t := &storageTransport{
			storage: s,
			tabID:   tabID,
			cancel:  cancel,
			ch:      make(chan []byte, defaultBusBuffer),
		}
		t.wg.Add(1)
		go t.run(watchCtx, changes)
		return t, nil
	}
}

type storageTransport struct {
	storage storage.Storage
	tabID   string
	cancel  context.CancelFunc
	ch      chan []byte
	wg      sync.WaitGroup
	once    sync.Once
	closed  bool
	mu      sync.RWMutex
}

func (t *storageTransport) run(ctx context.Context, changes <-chan storage.Change) {
	defer t.wg.Done()
	defer close(t.ch)

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Removed || c.Value == "" {
				continue
			}
			select {
			case t.ch <- []byte(c.Value):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *storageTransport) Publish(ctx context.Context, payload []byte) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrTransportClosed
	}
	return t.storage.Set(ctx, t.tabID, LastEventKey, string(payload))
}

func (t *storageTransport) Messages() <-chan []byte {
	return t.ch
}

func (t *storageTransport) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.cancel()
		t.wg.Wait()
	})
	return nil
}
