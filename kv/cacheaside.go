package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// CacheAside reads values through a Store, falling back to Load on a miss.
// Keys, TTL and invalidation are explicit at the call site.
//
// It must never wrap security state (counters, pending records, blacklist
// entries): a stale answer there is a bypass.
type CacheAside[T any] struct {
	Store Store
	TTL   time.Duration
	Key   func(id string) string
	Load  func(ctx context.Context, id string) (T, error)
}

// Get returns the cached value for id, loading and caching it on a miss.
// A store failure degrades to calling Load directly.
func (c CacheAside[T]) Get(ctx context.Context, id string) (T, error) {
	key := c.Key(id)

	raw, err := c.Store.Get(ctx, key)
	if err == nil {
		var v T
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			return v, nil
		}
		// Undecodable entry; reload and overwrite.
	} else if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnavailable) {
		var zero T
		return zero, err
	}

	v, err := c.Load(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	if b, jsonErr := json.Marshal(v); jsonErr == nil {
		_ = c.Store.Set(ctx, key, b, c.TTL)
	}
	return v, nil
}

// Invalidate drops the cached value for id.
func (c CacheAside[T]) Invalidate(ctx context.Context, id string) error {
	_, err := c.Store.Delete(ctx, c.Key(id))
	return err
}
