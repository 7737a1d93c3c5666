package identity

import (
	"context"

	"github.com/William-g7/Airnest-sub001/storage"
)

// CacheKey is the shared-storage key mirroring the user id.
const CacheKey = "app_user_id"

// LocalCache mirrors the user id into shared origin storage.
type LocalCache struct {
	storage storage.Storage
	writer  string
}

// NewLocalCache binds a cache to s. writer is the tab id stamped on writes.
func NewLocalCache(s storage.Storage, writer string) *LocalCache {
	return &LocalCache{storage: s, writer: writer}
}

func (c *LocalCache) UserID(ctx context.Context) (string, bool, error) {
	v, ok, err := c.storage.Get(ctx, CacheKey)
	if err != nil {
		return "", false, err
	}
	return v, ok && v != "", nil
}

func (c *LocalCache) Set(ctx context.Context, userID string) error {
	if userID == "" {
		return c.Clear(ctx)
	}
	return c.storage.Set(ctx, c.writer, CacheKey, userID)
}

func (c *LocalCache) Clear(ctx context.Context) error {
	return c.storage.Remove(ctx, c.writer, CacheKey)
}

type fallbackSource struct {
	Source
	cache *LocalCache
}

// WithFallback returns a Source whose UserID falls back to cache when the
// primary read fails. A primary that answers "absent" is trusted.
func WithFallback(primary Source, cache *LocalCache) Source {
	if cache == nil {
		return primary
	}
	return fallbackSource{Source: primary, cache: cache}
}

func (f fallbackSource) UserID(ctx context.Context) (string, bool, error) {
	v, ok, err := f.Source.UserID(ctx)
	if err == nil {
		return v, ok, nil
	}
	cv, cok, cerr := f.cache.UserID(ctx)
	if cerr != nil || !cok {
		return "", false, err
	}
	return cv, true, nil
}
