package kv

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

const defaultSweepEvery = time.Minute

var errMemoryClosed = errors.New("memory store closed")

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local [Store]. Entries are lost on restart and are
// not visible to other processes, so it is only suitable for single-instance
// deployments, development and tests.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	now        func() time.Time
	lastSweep  time.Time
	sweepEvery time.Duration
	closed     bool
}

// MemoryOption configures a [MemoryStore].
type MemoryOption func(*MemoryStore)

// WithClock injects the time source. Tests use it to simulate expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    map[string]memoryEntry{},
		now:        time.Now,
		sweepEvery: defaultSweepEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastSweep = s.now()
	return s
}

// lookup returns a live entry; callers hold mu.
func (s *MemoryStore) lookup(key string, now time.Time) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(now) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// begin takes the lock and sweeps expired entries when due. Callers must
// call s.mu.Unlock.
func (s *MemoryStore) begin() (time.Time, error) {
	s.mu.Lock()
	if s.closed {
		return time.Time{}, unavailable(errMemoryClosed)
	}
	now := s.now()
	if now.Sub(s.lastSweep) >= s.sweepEvery {
		for k, e := range s.entries {
			if e.expired(now) {
				delete(s.entries, k)
			}
		}
		s.lastSweep = now
	}
	return now, nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Get returns the value stored at key, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	now, err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e, ok := s.lookup(key, now)
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.value), nil
}

// Set stores value at key. A ttl of zero or less keeps it until deleted.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now, err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	s.entries[key] = memoryEntry{value: clone(value), expiresAt: expiry(now, ttl)}
	return nil
}

// Delete removes keys and reports how many existed.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	now, err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, k := range keys {
		if _, ok := s.lookup(k, now); ok {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Exists counts how many of keys are live.
func (s *MemoryStore) Exists(_ context.Context, keys ...string) (int64, error) {
	now, err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, k := range keys {
		if _, ok := s.lookup(k, now); ok {
			n++
		}
	}
	return n, nil
}

// Increment adds one to the integer at key, creating it at zero first. The
// existing TTL is kept.
func (s *MemoryStore) Increment(_ context.Context, key string) (int64, error) {
	now, err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	e, ok := s.lookup(key, now)
	var current int64
	if ok {
		current, err = strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
	}
	current++
	e.value = []byte(strconv.FormatInt(current, 10))
	s.entries[key] = e
	return current, nil
}

// Expire resets the TTL of a live key. A ttl of zero or less deletes it.
func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now, err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return false, err
	}
	e, ok := s.lookup(key, now)
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		delete(s.entries, key)
		return true, nil
	}
	e.expiresAt = now.Add(ttl)
	s.entries[key] = e
	return true, nil
}

// TTL returns the time left on key, zero when it never expires.
func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	now, err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	e, ok := s.lookup(key, now)
	if !ok {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(now), nil
}

// Take returns the value at key and deletes it under the same lock.
func (s *MemoryStore) Take(_ context.Context, key string) ([]byte, error) {
	now, err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e, ok := s.lookup(key, now)
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, key)
	return e.value, nil
}

// Update runs fn on the current value under the store lock and writes the
// result with ttl. A nil result deletes the key; ErrSkipWrite leaves it as is.
func (s *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	now, err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	e, ok := s.lookup(key, now)
	next, err := fn(clone(e.value), ok)
	if err != nil {
		if err == ErrSkipWrite {
			return nil
		}
		return err
	}
	if next == nil {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = memoryEntry{value: clone(next), expiresAt: expiry(now, ttl)}
	return nil
}

// Close drops all entries; later calls report ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = map[string]memoryEntry{}
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	now, err := s.begin()
	defer s.mu.Unlock()
	if err != nil {
		return 0
	}
	n := 0
	for k := range s.entries {
		if _, ok := s.lookup(k, now); ok {
			n++
		}
	}
	return n
}
