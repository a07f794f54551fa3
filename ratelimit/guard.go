package ratelimit

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/metrics"
	"go.uber.org/zap"
)

const defaultGuardTimeout = 250 * time.Millisecond

// GuardOptions configures a [Guard].
type GuardOptions struct {
	// Timeout bounds each limiter call. Zero means 250ms.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Collectors
}

// Guard applies the fail-open policy around limiter calls and turns denials
// into *RateLimitedError.
type Guard struct {
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Collectors
}

// NewGuard creates a guard.
func NewGuard(opts GuardOptions) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultGuardTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Guard{timeout: opts.Timeout, logger: opts.Logger, metrics: opts.Metrics}
}

// Allow runs decide under the guard's timeout. A backend failure admits the
// request. A denial is returned as *RateLimitedError. name labels logs and
// metrics and must not contain the raw key.
func (g *Guard) Allow(ctx context.Context, name string, decide func(context.Context) (Result, error)) (Result, error) {
	c, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := decide(c)
	if err != nil {
		g.logger.Warn("ratelimit: backend failure, admitting request",
			zap.String("limiter", name),
			zap.Error(err),
		)
		g.metrics.RateLimitDecision(name, metrics.OutcomeFailOpen)
		return Result{Allowed: true}, nil
	}
	if !res.Allowed {
		g.metrics.RateLimitDecision(name, metrics.OutcomeDenied)
		return res, &RateLimitedError{RetryAfter: res.RetryAfter}
	}
	g.metrics.RateLimitDecision(name, metrics.OutcomeAllowed)
	return res, nil
}

// Check guards a single limiter call.
func (g *Guard) Check(ctx context.Context, name string, l Limiter, key string, limit int, window time.Duration) (Result, error) {
	return g.Allow(ctx, name, func(c context.Context) (Result, error) {
		return l.IsAllowed(c, key, limit, window)
	})
}

// CheckTiers guards a hierarchical check; the metric label is name.
func (g *Guard) CheckTiers(ctx context.Context, name string, h *Hierarchical, req Request) (Decision, error) {
	var tier string
	res, err := g.Allow(ctx, name, func(c context.Context) (Result, error) {
		d, err := h.Check(c, req)
		tier = d.Tier
		return d.Result, err
	})
	if err == nil {
		tier = ""
	}
	return Decision{Result: res, Tier: tier}, err
}
