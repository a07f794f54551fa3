package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultAdaptiveInterval = 10 * time.Second

// LoadSampler reports host utilisation in percent (0-100).
type LoadSampler interface {
	Sample(ctx context.Context) (cpuPercent, memPercent float64, err error)
}

// AdaptiveOptions configures an [Adaptive] limiter.
type AdaptiveOptions struct {
	Options
	Sampler LoadSampler
	// Interval is the minimum time between load samples. Zero means 10s.
	Interval time.Duration
	Logger   *zap.Logger
}

// Adaptive is a fixed-window limiter whose limit scales with host load:
// limit' = limit * clamp(1 - (cpu% + mem%)/200, 0.1, 2.0).
type Adaptive struct {
	opts     AdaptiveOptions
	logger   *zap.Logger
	interval time.Duration

	mu        sync.Mutex
	factor    float64
	sampledAt time.Time
	sampled   bool
	effective int
	inner     *FixedWindow
}

// NewAdaptive creates an adaptive limiter. A nil Sampler keeps the factor at 1.
func NewAdaptive(opts AdaptiveOptions) *Adaptive {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultAdaptiveInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adaptive{
		opts:     opts,
		logger:   logger,
		interval: interval,
		factor:   1,
		inner:    NewFixedWindow(opts.Options),
	}
}

func loadFactor(cpu, mem float64) float64 {
	f := 1 - (cpu+mem)/200
	switch {
	case f < 0.1:
		return 0.1
	case f > 2.0:
		return 2.0
	}
	return f
}

// EffectiveLimit returns the load-scaled limit for base, resampling load at
// most once per interval.
func (a *Adaptive) EffectiveLimit(ctx context.Context, base int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.opts.now()
	if a.opts.Sampler != nil && (!a.sampled || now.Sub(a.sampledAt) >= a.interval) {
		a.sampled = true
		a.sampledAt = now
		cpu, mem, err := a.opts.Sampler.Sample(ctx)
		if err != nil {
			a.logger.Warn("ratelimit: load sample failed, keeping previous factor", zap.Error(err))
		} else {
			a.factor = loadFactor(cpu, mem)
		}
	}

	eff := int(float64(base) * a.factor)
	if eff < 1 && base > 0 {
		eff = 1
	}
	if eff != a.effective {
		a.effective = eff
		a.inner = NewFixedWindow(a.opts.Options)
	}
	return eff
}

// IsAllowed applies the load-scaled limit through a fixed window.
func (a *Adaptive) IsAllowed(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return denyAll(a.opts.now(), window), nil
	}
	eff := a.EffectiveLimit(ctx, limit)

	a.mu.Lock()
	inner := a.inner
	a.mu.Unlock()
	return inner.IsAllowed(ctx, key, eff, window)
}
