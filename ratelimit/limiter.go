package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/kv"
)

var (
	// ErrRateLimited is matched by every *RateLimitedError.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable indicates the limiter backend could not be reached.
	ErrUnavailable = errors.New("rate limiter backend unavailable")
)

// RateLimitedError carries the retry-after hint of a denied request.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Result is the decision for one request.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
	// RetryAfter is set on denial, rounded up to whole seconds and at least 1s.
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key fits within limit
// requests per window.
type Limiter interface {
	IsAllowed(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Options are shared by the store-backed algorithms.
type Options struct {
	Store kv.Store
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// ceilSeconds rounds d up to whole seconds, with a floor of one second.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= time.Second {
		return time.Second
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}

// deny is the answer for a non-positive limit; the store is never touched.
func denyAll(now time.Time, window time.Duration) Result {
	return Result{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  now.Add(window),
		RetryAfter: ceilSeconds(window),
	}
}

func storeErr(err error) error {
	if errors.Is(err, kv.ErrUnavailable) || errors.Is(err, kv.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
