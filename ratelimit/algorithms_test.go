package ratelimit

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func TestTokenBucketCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 5, 17} {
		clock := newFakeClock()
		l := NewTokenBucket(memOptions(clock))
		ctx := context.Background()

		for i := 1; i <= capacity; i++ {
			res, err := l.IsAllowed(ctx, "k", capacity, time.Minute)
			if err != nil || !res.Allowed {
				t.Fatalf("capacity %d: request %d = %+v, %v", capacity, i, res, err)
			}
			if res.Remaining != capacity-i {
				t.Fatalf("capacity %d: request %d remaining = %d, want %d", capacity, i, res.Remaining, capacity-i)
			}
		}
		res, err := l.IsAllowed(ctx, "k", capacity, time.Minute)
		if err != nil || res.Allowed {
			t.Fatalf("capacity %d: request %d should be denied, got %+v, %v", capacity, capacity+1, res, err)
		}
	}
}

func TestTokenBucketRefills(t *testing.T) {
	clock := newFakeClock()
	l := NewTokenBucket(memOptions(clock))
	ctx := context.Background()

	// 6 tokens per minute: one token every 10s.
	for i := 0; i < 6; i++ {
		if res, _ := l.IsAllowed(ctx, "k", 6, time.Minute); !res.Allowed {
			t.Fatalf("request %d denied", i+1)
		}
	}
	res, _ := l.IsAllowed(ctx, "k", 6, time.Minute)
	if res.Allowed {
		t.Fatal("bucket should be empty")
	}
	if res.RetryAfter != 10*time.Second {
		t.Fatalf("retry_after = %v, want 10s", res.RetryAfter)
	}

	clock.Advance(10 * time.Second)
	if res, _ := l.IsAllowed(ctx, "k", 6, time.Minute); !res.Allowed {
		t.Fatal("one token should have refilled")
	}
	if res, _ := l.IsAllowed(ctx, "k", 6, time.Minute); res.Allowed {
		t.Fatal("only one token should have refilled")
	}

	// Refill caps at capacity.
	clock.Advance(time.Hour)
	admitted := 0
	for i := 0; i < 10; i++ {
		if res, _ := l.IsAllowed(ctx, "k", 6, time.Minute); res.Allowed {
			admitted++
		}
	}
	if admitted != 6 {
		t.Fatalf("admitted %d after long idle, want capacity 6", admitted)
	}
}

func TestSlidingWindowNeverExceedsLimitInAnyWindow(t *testing.T) {
	const (
		limit  = 5
		window = 10 * time.Second
	)
	clock := newFakeClock()
	l := NewSlidingWindowLog(memOptions(clock))
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var admitted []time.Time
	for i := 0; i < 400; i++ {
		clock.Advance(time.Duration(rng.Intn(1500)) * time.Millisecond)
		res, err := l.IsAllowed(ctx, "k", limit, window)
		if err != nil {
			t.Fatalf("IsAllowed failed: %v", err)
		}
		if res.Allowed {
			admitted = append(admitted, clock.Now())
		} else if res.RetryAfter < time.Second {
			t.Fatalf("retry_after must be at least 1s, got %v", res.RetryAfter)
		}
	}
	if len(admitted) == 0 {
		t.Fatal("nothing admitted")
	}

	for i := range admitted {
		in := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < window; j++ {
			in++
		}
		if in > limit {
			t.Fatalf("%d admissions within %v starting at %v", in, window, admitted[i])
		}
	}
}

func TestSlidingWindowRetryAfterPointsAtOldestEntry(t *testing.T) {
	clock := newFakeClock()
	l := NewSlidingWindowLog(memOptions(clock))
	ctx := context.Background()

	l.IsAllowed(ctx, "k", 2, time.Minute)
	clock.Advance(20 * time.Second)
	l.IsAllowed(ctx, "k", 2, time.Minute)
	clock.Advance(5 * time.Second)

	res, _ := l.IsAllowed(ctx, "k", 2, time.Minute)
	if res.Allowed {
		t.Fatal("expected denial")
	}
	if res.RetryAfter != 35*time.Second {
		t.Fatalf("retry_after = %v, want 35s", res.RetryAfter)
	}

	clock.Advance(35 * time.Second)
	if res, _ := l.IsAllowed(ctx, "k", 2, time.Minute); !res.Allowed {
		t.Fatal("oldest entry should have slid out")
	}
}

func TestFixedWindowBoundaryAdmitsDoubleBurst(t *testing.T) {
	const (
		limit  = 4
		window = time.Minute
	)
	clock := newFakeClock()
	boundary := time.Unix(0, clock.Now().UnixNano()/int64(window)*int64(window)).Add(window)
	clock.Set(boundary.Add(-time.Second))

	l := NewFixedWindow(memOptions(clock))
	ctx := context.Background()

	admitted := 0
	for i := 0; i < limit+2; i++ {
		if res, _ := l.IsAllowed(ctx, "k", limit, window); res.Allowed {
			admitted++
		}
	}
	if admitted != limit {
		t.Fatalf("admitted %d before boundary, want %d", admitted, limit)
	}

	clock.Set(boundary)
	for i := 0; i < limit+2; i++ {
		if res, _ := l.IsAllowed(ctx, "k", limit, window); res.Allowed {
			admitted++
		}
	}
	// Two seconds of wall time, well under one window, yet more than limit
	// (at least 2L-1, at most 2L) were admitted.
	if admitted < 2*limit-1 || admitted > 2*limit {
		t.Fatalf("admitted %d across the boundary, want between %d and %d", admitted, 2*limit-1, 2*limit)
	}
}

func TestFixedWindowDenialRetryAfterIsTimeToBoundary(t *testing.T) {
	clock := newFakeClock()
	window := time.Minute
	start := time.Unix(0, clock.Now().UnixNano()/int64(window)*int64(window))
	clock.Set(start.Add(45 * time.Second))

	l := NewFixedWindow(memOptions(clock))
	ctx := context.Background()
	l.IsAllowed(ctx, "k", 1, window)
	res, _ := l.IsAllowed(ctx, "k", 1, window)
	if res.Allowed {
		t.Fatal("expected denial")
	}
	if res.RetryAfter != 15*time.Second {
		t.Fatalf("retry_after = %v, want 15s", res.RetryAfter)
	}
	if !res.ResetTime.Equal(start.Add(window)) {
		t.Fatalf("reset_time = %v, want %v", res.ResetTime, start.Add(window))
	}
}
