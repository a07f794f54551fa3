package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, kv.Store) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := kv.NewRedisStore(rdb, kv.RedisOptions{})
	t.Cleanup(func() {
		_ = s.Close()
		mr.Close()
	})
	return mr, s
}

func TestLoginAttemptCounterLocksAtThreshold(t *testing.T) {
	_, store := newTestStore(t)
	c := NewLoginAttemptCounter(store, LoginAttemptConfig{Threshold: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		locked, err := c.RecordFailure(ctx, "alice@example.com")
		if err != nil || locked {
			t.Fatalf("failure %d = %v, %v", i, locked, err)
		}
	}
	locked, err := c.RecordFailure(ctx, "alice@example.com")
	if err != nil || !locked {
		t.Fatalf("third failure should lock, got %v, %v", locked, err)
	}
	if ok, _ := c.Locked(ctx, "alice@example.com"); !ok {
		t.Fatal("Locked should report true")
	}
	if ok, _ := c.Locked(ctx, "bob@example.com"); ok {
		t.Fatal("other identifiers must be unaffected")
	}
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

// advance moves both the limiter clock and the miniredis TTL clock.
func (c *testClock) advance(mr *miniredis.Miniredis, d time.Duration) {
	c.t = c.t.Add(d)
	mr.FastForward(d)
}

func TestLoginAttemptCounterWindowIsFixed(t *testing.T) {
	mr, store := newTestStore(t)
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	c := NewLoginAttemptCounter(store, LoginAttemptConfig{Threshold: 3, Window: time.Minute, Now: clock.Now})
	ctx := context.Background()

	c.RecordFailure(ctx, "ip:10.0.0.1")
	clock.advance(mr, 50*time.Second)
	c.RecordFailure(ctx, "ip:10.0.0.1")
	if n, _ := c.Count(ctx, "ip:10.0.0.1"); n != 2 {
		t.Fatalf("count inside window = %d", n)
	}
	clock.advance(mr, 11*time.Second)

	n, err := c.Count(ctx, "ip:10.0.0.1")
	if err != nil || n != 0 {
		t.Fatalf("later failures must not extend the window: count = %d, %v", n, err)
	}
	if locked, err := c.RecordFailure(ctx, "ip:10.0.0.1"); err != nil || locked {
		t.Fatalf("failure after the window = %v, %v", locked, err)
	}
	if n, _ := c.Count(ctx, "ip:10.0.0.1"); n != 1 {
		t.Fatalf("a new window should start at one, got %d", n)
	}
}

func TestLimiterCountersAlwaysCarryTTL(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	c := NewLoginAttemptCounter(store, LoginAttemptConfig{Window: time.Minute})
	if _, err := c.RecordFailure(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	l := NewCodeLimiter(store, CodeLimiterConfig{Cooldown: 30 * time.Second})
	if err := l.RecordFailure(ctx, "u1"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	for key, want := range map[string]time.Duration{
		"la:alice@example.com": time.Minute,
		"2fa:att:u1":           30 * time.Second,
	} {
		ttl, err := store.TTL(ctx, key)
		if err != nil {
			t.Fatalf("TTL(%s): %v", key, err)
		}
		if ttl <= 0 || ttl > want {
			t.Fatalf("TTL(%s) = %v, want (0, %v]", key, ttl, want)
		}
	}

	mr.FastForward(time.Minute)
	if n, err := store.Exists(ctx, "la:alice@example.com"); err != nil || n != 0 {
		t.Fatalf("counter outlived its window: %d, %v", n, err)
	}
}

func TestLoginAttemptCounterReset(t *testing.T) {
	_, store := newTestStore(t)
	c := NewLoginAttemptCounter(store, LoginAttemptConfig{Threshold: 2})
	ctx := context.Background()

	c.RecordFailure(ctx, "u")
	c.RecordFailure(ctx, "u")
	if err := c.Reset(ctx, "u"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if n, _ := c.Count(ctx, "u"); n != 0 {
		t.Fatalf("count after reset = %d", n)
	}
}

func TestLoginAttemptCounterSurfacesStoreErrors(t *testing.T) {
	mr, store := newTestStore(t)
	mr.Close()
	c := NewLoginAttemptCounter(store, LoginAttemptConfig{})
	if _, err := c.RecordFailure(context.Background(), "u"); !errors.Is(err, ErrAttemptsUnavailable) {
		t.Fatalf("expected ErrAttemptsUnavailable, got %v", err)
	}
}

func TestNilLimitersAreNoOps(t *testing.T) {
	var c *LoginAttemptCounter
	if locked, err := c.RecordFailure(context.Background(), "u"); locked || err != nil {
		t.Fatalf("nil counter = %v, %v", locked, err)
	}
	var l *CodeLimiter
	if err := l.RecordFailure(context.Background(), "u"); err != nil {
		t.Fatalf("nil code limiter = %v", err)
	}
}

func TestCodeLimiter(t *testing.T) {
	mr, store := newTestStore(t)
	l := NewCodeLimiter(store, CodeLimiterConfig{MaxAttempts: 2, Cooldown: time.Minute})
	ctx := context.Background()

	if err := l.RecordFailure(ctx, "u"); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if err := l.RecordFailure(ctx, "u"); !errors.Is(err, ErrCodeRateLimited) {
		t.Fatalf("expected ErrCodeRateLimited, got %v", err)
	}
	if err := l.Check(ctx, "u"); !errors.Is(err, ErrCodeRateLimited) {
		t.Fatalf("Check = %v", err)
	}

	mr.FastForward(61 * time.Second)
	if err := l.Check(ctx, "u"); err != nil {
		t.Fatalf("cooldown should have expired: %v", err)
	}
}
