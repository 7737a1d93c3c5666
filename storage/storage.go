package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed storage.
var ErrClosed = errors.New("storage closed")

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("storage unavailable")

// Change describes one write observed by a watcher.
type Change struct {
	Key     string
	Value   string
	Removed bool
	Writer  string
}

// Storage is a shared key/value medium with writer-excluding change
// notifications. Writer and watcher ids identify tab clients.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, writer, key, value string) error
	Remove(ctx context.Context, writer, key string) error
	// Watch streams changes of key made by anyone but watcher. The channel
	// is closed when ctx is done or the storage is closed.
	Watch(ctx context.Context, watcher, key string) (<-chan Change, error)
}
