package main

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/kv"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if percentile(samples, 0) != 1 || percentile(samples, 100) != 10 {
		t.Fatal("bounds")
	}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %v", got)
	}
	if percentile(nil, 50) != 0 {
		t.Fatal("empty samples")
	}
}

func TestPhasesHoldOnMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	stats, n := runIncrementPhase(ctx, store, 500, 16)
	if n != 500 || stats.failures != 0 {
		t.Fatalf("increment = %d, failures %d", n, stats.failures)
	}

	l, err := newLimiter("fixed_window", store)
	if err != nil {
		t.Fatalf("newLimiter: %v", err)
	}
	if _, admitted := runLimiterPhase(ctx, l, 20, 200, 16); admitted != 20 {
		t.Fatalf("admitted = %d, want 20", admitted)
	}

	if _, wins := runTakePhase(ctx, store, 50, 16); wins != 50 {
		t.Fatalf("wins = %d, want 50", wins)
	}

	if _, err := newLimiter("nope", store); err == nil {
		t.Fatal("expected unknown algorithm error")
	}
}
