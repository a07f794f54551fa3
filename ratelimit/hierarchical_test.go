package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func testTiers() []Tier {
	return []Tier{
		{Name: "global", Limit: 100, Window: time.Minute, Key: func(Request) string { return "all" }},
		{Name: "user", Limit: 3, Window: time.Minute, Key: func(r Request) string { return r.UserID }},
		{Name: "ip", Limit: 5, Window: time.Minute, Key: func(r Request) string { return r.IP }},
	}
}

func TestHierarchicalShortCircuitsOnFirstDenial(t *testing.T) {
	clock := newFakeClock()
	h := NewHierarchical(NewSlidingWindowLog(memOptions(clock)), testTiers()...)
	ctx := context.Background()
	req := Request{IP: "10.0.0.1", UserID: "u1"}

	for i := 0; i < 3; i++ {
		d, err := h.Check(ctx, req)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d = %+v, %v", i+1, d, err)
		}
		if d.Remaining != 2-i {
			t.Fatalf("remaining = %d, want most restrictive %d", d.Remaining, 2-i)
		}
	}

	d, err := h.Check(ctx, req)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed || d.Tier != "user" {
		t.Fatalf("expected user tier denial, got %+v", d)
	}

	// The ip tier was never reached on the denied call: another user on the
	// same IP still has 2 of 5 left.
	d, _ = h.Check(ctx, Request{IP: "10.0.0.1", UserID: "u2"})
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("second user = %+v, want allowed with ip remaining 1", d)
	}
}

func TestHierarchicalSkipsTiersWithoutKey(t *testing.T) {
	clock := newFakeClock()
	h := NewHierarchical(NewFixedWindow(memOptions(clock)), testTiers()...)
	for i := 0; i < 5; i++ {
		d, err := h.Check(context.Background(), Request{IP: "10.0.0.2"})
		if err != nil || !d.Allowed {
			t.Fatalf("anonymous request %d = %+v, %v", i+1, d, err)
		}
	}
	d, _ := h.Check(context.Background(), Request{IP: "10.0.0.2"})
	if d.Allowed || d.Tier != "ip" {
		t.Fatalf("expected ip tier denial, got %+v", d)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) IsAllowed(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, ErrUnavailable
}

func TestGuardFailsOpenOnBackendError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.Register(reg)
	g := NewGuard(GuardOptions{Metrics: m})

	res, err := g.Check(context.Background(), "login", brokenLimiter{}, "k", 1, time.Minute)
	if err != nil || !res.Allowed {
		t.Fatalf("guard should fail open, got %+v, %v", res, err)
	}

	d, err := g.CheckTiers(context.Background(), "login", NewHierarchical(brokenLimiter{}, testTiers()...), Request{IP: "x"})
	if err != nil || !d.Allowed {
		t.Fatalf("hierarchical guard should fail open, got %+v, %v", d, err)
	}
}

func TestGuardFailsOpenWhenRedisDown(t *testing.T) {
	mr, store := newTestRedisStore(t)
	mr.Close()

	g := NewGuard(GuardOptions{})
	res, err := g.Check(context.Background(), "ip", NewFixedWindow(Options{Store: store}), "k", 1, time.Minute)
	if err != nil || !res.Allowed {
		t.Fatalf("expected fail-open admission, got %+v, %v", res, err)
	}
}

func TestGuardReturnsRateLimitedError(t *testing.T) {
	clock := newFakeClock()
	g := NewGuard(GuardOptions{})
	l := NewFixedWindow(memOptions(clock))
	ctx := context.Background()

	if _, err := g.Check(ctx, "ip", l, "k", 1, time.Minute); err != nil {
		t.Fatalf("first check failed: %v", err)
	}
	_, err := g.Check(ctx, "ip", l, "k", 1, time.Minute)
	var rl *RateLimitedError
	if !errors.As(err, &rl) || rl.RetryAfter <= 0 {
		t.Fatalf("expected *RateLimitedError with retry-after, got %v", err)
	}

	h := NewHierarchical(l, Tier{Name: "user", Limit: 1, Window: time.Minute, Key: func(r Request) string { return r.UserID }})
	g.CheckTiers(ctx, "login", h, Request{UserID: "u"})
	d, err := g.CheckTiers(ctx, "login", h, Request{UserID: "u"})
	if !errors.Is(err, ErrRateLimited) || d.Tier != "user" {
		t.Fatalf("expected user tier rate limit, got %+v, %v", d, err)
	}
}
