package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultOperationTimeout = 250 * time.Millisecond
	defaultReadRetryBackoff = 25 * time.Millisecond
	defaultUpdateRetries    = 8
)

// RedisOptions tunes a [RedisStore].
type RedisOptions struct {
	// Prefix is prepended to every key ("authcore:" style namespaces).
	Prefix string
	// OperationTimeout bounds every call. Zero uses 250ms.
	OperationTimeout time.Duration
	// ReadRetryBackoff is the pause before the single retry of a failed read.
	ReadRetryBackoff time.Duration
	// UpdateRetries bounds optimistic retries in Update.
	UpdateRetries int
}

// RedisStore implements [Store] on top of a go-redis universal client.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	backoff time.Duration
	retries int
}

// NewRedisStore wraps client. The store does not own connection setup; Close
// closes the client.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}
	if opts.ReadRetryBackoff <= 0 {
		opts.ReadRetryBackoff = defaultReadRetryBackoff
	}
	if opts.UpdateRetries <= 0 {
		opts.UpdateRetries = defaultUpdateRetries
	}
	return &RedisStore{
		client:  client,
		prefix:  opts.Prefix,
		timeout: opts.OperationTimeout,
		backoff: opts.ReadRetryBackoff,
		retries: opts.UpdateRetries,
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) keys(in []string) []string {
	out := make([]string, len(in))
	for i, k := range in {
		out[i] = s.key(k)
	}
	return out
}

func (s *RedisStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// read runs op once and, on a transport failure, once more after a short pause.
func (s *RedisStore) read(ctx context.Context, op func(context.Context) error) error {
	attempt := func() error {
		c, cancel := s.bounded(ctx)
		defer cancel()
		return op(c)
	}

	err := attempt()
	if err == nil || errors.Is(err, redis.Nil) || ctx.Err() != nil {
		return err
	}

	timer := time.NewTimer(s.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}
	return attempt()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Get returns the value stored at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.read(ctx, func(c context.Context) error {
		b, err := s.client.Get(c, s.key(key)).Bytes()
		out = b
		return err
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return out, nil
}

// Set stores value with ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c, cancel := s.bounded(ctx)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(c, s.key(key), value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Delete removes keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	c, cancel := s.bounded(ctx)
	defer cancel()
	n, err := s.client.Del(c, s.keys(keys)...).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Exists counts existing keys.
func (s *RedisStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var n int64
	err := s.read(ctx, func(c context.Context) error {
		v, err := s.client.Exists(c, s.keys(keys)...).Result()
		n = v
		return err
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Increment is a native INCR.
func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	c, cancel := s.bounded(ctx)
	defer cancel()
	n, err := s.client.Incr(c, s.key(key)).Result()
	if err != nil {
		if isNotIntegerReply(err) {
			return 0, ErrNotInteger
		}
		return 0, unavailable(err)
	}
	return n, nil
}

// Expire sets the TTL of an existing key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c, cancel := s.bounded(ctx)
	defer cancel()
	ok, err := s.client.Expire(c, s.key(key), ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// TTL reports the remaining lifetime of key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var d time.Duration
	err := s.read(ctx, func(c context.Context) error {
		v, err := s.client.PTTL(c, s.key(key)).Result()
		d = v
		return err
	})
	if err != nil {
		return 0, unavailable(err)
	}
	// go-redis reports -2 (missing) and -1 (no expiry) as raw durations.
	switch {
	case d == -2:
		return 0, ErrNotFound
	case d < 0:
		return 0, nil
	}
	return d, nil
}

// Take reads and deletes key with GETDEL.
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	c, cancel := s.bounded(ctx)
	defer cancel()
	b, err := s.client.GetDel(c, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return b, nil
}

// Update runs fn inside a WATCH/MULTI transaction, retrying when another
// client modified the key between the read and the write.
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	if ttl < 0 {
		ttl = 0
	}
	k := s.key(key)

	for i := 0; i < s.retries; i++ {
		var fnErr error
		c, cancel := s.bounded(ctx)
		err := s.client.Watch(c, func(tx *redis.Tx) error {
			current, err := tx.Get(c, k).Bytes()
			exists := true
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					return err
				}
				exists = false
				current = nil
			}

			next, err := fn(current, exists)
			if err != nil {
				fnErr = err
				return err
			}

			_, err = tx.TxPipelined(c, func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(c, k)
					return nil
				}
				pipe.Set(c, k, next, ttl)
				return nil
			})
			return err
		}, k)
		cancel()

		switch {
		case fnErr != nil:
			if errors.Is(fnErr, ErrSkipWrite) {
				return nil
			}
			return fnErr
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return unavailable(err)
		}
	}

	return ErrConflict
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks connectivity within the operation timeout.
func (s *RedisStore) Ping(ctx context.Context) error {
	c, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.client.Ping(c).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func isNotIntegerReply(err error) bool {
	var redisErr redis.Error
	if !errors.As(err, &redisErr) {
		return false
	}
	return strings.Contains(redisErr.Error(), "not an integer")
}
