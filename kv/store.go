package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the key does not exist or has expired.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps every backend failure (network, timeout, closed client).
	ErrUnavailable = errors.New("kv: store unavailable")
	// ErrConflict is returned by Update when optimistic retries are exhausted.
	ErrConflict = errors.New("kv: concurrent update conflict")
	// ErrNotInteger is returned by Increment when the stored value is not an integer.
	ErrNotInteger = errors.New("kv: value is not an integer")
	// ErrSkipWrite may be returned from an [UpdateFunc] to leave the key untouched.
	ErrSkipWrite = errors.New("kv: skip write")
)

// UpdateFunc computes the next value of a key from its current value.
// exists is false when the key is absent; current is nil in that case.
// Returning a nil slice deletes the key. Returning ErrSkipWrite leaves the key
// as it is and makes Update return nil. The function may run more than once
// when a concurrent writer wins the race, so it must not have side effects
// beyond assigning captured variables.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is the key/value contract shared by every authcore component.
//
// All operations are safe for concurrent use. Increment, Take and Update are
// atomic with respect to other callers on the same key, including callers in
// other processes when the backend is shared.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	// Exists reports how many of keys exist.
	Exists(ctx context.Context, keys ...string) (int64, error)
	// Increment atomically adds one, creating the key at zero first.
	Increment(ctx context.Context, key string) (int64, error)
	// Expire sets or extends the TTL without touching the value. It reports
	// false when the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime; zero means no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Take atomically reads and deletes key. At most one caller observes the value.
	Take(ctx context.Context, key string) ([]byte, error)
	// Update performs an atomic read-modify-write of key. The written value
	// gets ttl (<= 0 means no expiry).
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
	Close() error
}

// Deleted is a convenience for the single-key delete(key) -> bool form.
func Deleted(ctx context.Context, s Store, key string) (bool, error) {
	n, err := s.Delete(ctx, key)
	return n > 0, err
}
