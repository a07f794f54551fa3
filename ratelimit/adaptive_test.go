package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubLoad struct {
	cpu, mem float64
	err      error
	calls    int
}

func (s *stubLoad) Sample(context.Context) (float64, float64, error) {
	s.calls++
	return s.cpu, s.mem, s.err
}

func TestLoadFactorClamp(t *testing.T) {
	cases := []struct {
		cpu, mem, want float64
	}{
		{0, 0, 1},
		{50, 50, 0.5},
		{100, 100, 0.1},
		{95, 95, 0.1},
		{20, 40, 0.7},
	}
	for _, tc := range cases {
		if got := loadFactor(tc.cpu, tc.mem); got < tc.want-1e-9 || got > tc.want+1e-9 {
			t.Errorf("loadFactor(%v, %v) = %v, want %v", tc.cpu, tc.mem, got, tc.want)
		}
	}
}

func TestAdaptiveScalesLimitAndResamplesEveryInterval(t *testing.T) {
	clock := newFakeClock()
	load := &stubLoad{cpu: 50, mem: 50}
	a := NewAdaptive(AdaptiveOptions{Options: memOptions(clock), Sampler: load})
	ctx := context.Background()

	if got := a.EffectiveLimit(ctx, 10); got != 5 {
		t.Fatalf("effective = %d, want 5", got)
	}

	load.cpu, load.mem = 0, 0
	clock.Advance(5 * time.Second)
	if got := a.EffectiveLimit(ctx, 10); got != 5 {
		t.Fatalf("factor must not change within interval, got %d", got)
	}
	if load.calls != 1 {
		t.Fatalf("sampler calls = %d, want 1", load.calls)
	}

	clock.Advance(5 * time.Second)
	if got := a.EffectiveLimit(ctx, 10); got != 10 {
		t.Fatalf("effective after resample = %d, want 10", got)
	}
	if load.calls != 2 {
		t.Fatalf("sampler calls = %d, want 2", load.calls)
	}
}

func TestAdaptiveEnforcesScaledLimit(t *testing.T) {
	clock := newFakeClock()
	load := &stubLoad{cpu: 100, mem: 100}
	a := NewAdaptive(AdaptiveOptions{Options: memOptions(clock), Sampler: load})
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 20; i++ {
		res, err := a.IsAllowed(ctx, "k", 20, time.Minute)
		if err != nil {
			t.Fatalf("IsAllowed failed: %v", err)
		}
		if res.Allowed {
			admitted++
		}
	}
	if admitted != 2 {
		t.Fatalf("admitted %d under full load, want 2 (20 * 0.1)", admitted)
	}
}

func TestAdaptiveKeepsFactorOnSampleError(t *testing.T) {
	clock := newFakeClock()
	load := &stubLoad{cpu: 50, mem: 50}
	a := NewAdaptive(AdaptiveOptions{Options: memOptions(clock), Sampler: load})
	ctx := context.Background()

	a.EffectiveLimit(ctx, 10)
	load.err = errors.New("procfs gone")
	clock.Advance(time.Minute)
	if got := a.EffectiveLimit(ctx, 10); got != 5 {
		t.Fatalf("effective = %d, want previous 5", got)
	}
}

func TestAdaptiveNeverScalesPositiveLimitToZero(t *testing.T) {
	clock := newFakeClock()
	a := NewAdaptive(AdaptiveOptions{Options: memOptions(clock), Sampler: &stubLoad{cpu: 100, mem: 100}})
	if got := a.EffectiveLimit(context.Background(), 3); got != 1 {
		t.Fatalf("effective = %d, want 1", got)
	}
}
