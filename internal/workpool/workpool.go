// Package workpool bounds the CPU-heavy work of authentication (argon2id
// verification, TOTP computation) so a burst of logins cannot starve request
// handling of CPU.
package workpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool admits at most Size concurrent jobs. Callers block in Do until a slot
// frees up or ctx is done.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// New creates a pool of size slots; size <= 0 means GOMAXPROCS.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size reports the number of slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Do runs fn in a slot on the calling goroutine. A nil pool runs fn directly.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if p == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Run is Do for functions returning a value.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func() error {
		v, err := fn()
		out = v
		return err
	})
	return out, err
}
