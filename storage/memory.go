package storage

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultWatchBuffer = 16

type memoryWatcher struct {
	key   string
	owner string
	ch    chan Change
	once  sync.Once
}

func (w *memoryWatcher) close() {
	w.once.Do(func() { close(w.ch) })
}

// Memory is an in-process Storage. All tab clients of one process that share
// a *Memory behave as tabs of one browser origin.
type Memory struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[*memoryWatcher]struct{}
	buffer   int
	closed   bool
	dropped  atomic.Uint64
}

// NewMemory creates an empty in-process storage. buffer sizes each watcher
// channel; changes that do not fit are dropped and counted.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = defaultWatchBuffer
	}
	return &Memory{
		values:   make(map[string]string),
		watchers: make(map[*memoryWatcher]struct{}),
		buffer:   buffer,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, writer, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.values[key] = value
	m.notifyLocked(Change{Key: key, Value: value, Writer: writer})
	return nil
}

func (m *Memory) Remove(_ context.Context, writer, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.values[key]; !ok {
		return nil
	}
	delete(m.values, key)
	m.notifyLocked(Change{Key: key, Removed: true, Writer: writer})
	return nil
}

func (m *Memory) Watch(ctx context.Context, watcher, key string) (<-chan Change, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	w := &memoryWatcher{key: key, owner: watcher, ch: make(chan Change, m.buffer)}
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, w)
		m.mu.Unlock()
		w.close()
	}()

	return w.ch, nil
}

// Dropped reports changes discarded because a watcher buffer was full.
func (m *Memory) Dropped() uint64 {
	return m.dropped.Load()
}

// Close closes every watcher channel. Later calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for w := range m.watchers {
		w.close()
		delete(m.watchers, w)
	}
	return nil
}

func (m *Memory) notifyLocked(c Change) {
	for w := range m.watchers {
		if w.key != c.Key || w.owner == c.Writer {
			continue
		}
		select {
		case w.ch <- c:
		default:
			m.dropped.Add(1)
		}
	}
}
