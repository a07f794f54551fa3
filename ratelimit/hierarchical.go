package ratelimit

import (
	"context"
	"time"
)

// Request carries the dimensions tiers derive their keys from.
type Request struct {
	IP       string
	UserID   string
	Endpoint string
}

// Tier is one level of a [Hierarchical] limiter.
type Tier struct {
	Name   string
	Limit  int
	Window time.Duration
	// Key derives the tier's key; an empty key skips the tier.
	Key func(Request) string
	// Limiter overrides the hierarchy's default algorithm for this tier.
	Limiter Limiter
}

// Decision is a hierarchical result. Tier names the denying tier.
type Decision struct {
	Result
	Tier string
}

// Hierarchical evaluates tiers in order and stops at the first denial.
type Hierarchical struct {
	def   Limiter
	tiers []Tier
}

// NewHierarchical creates a hierarchy whose tiers default to def.
func NewHierarchical(def Limiter, tiers ...Tier) *Hierarchical {
	return &Hierarchical{def: def, tiers: tiers}
}

// Tiers returns the configured tiers in evaluation order.
func (h *Hierarchical) Tiers() []Tier {
	return append([]Tier(nil), h.tiers...)
}

// Check returns the first denying tier's result, or an admission carrying the
// smallest remaining budget and the latest reset time among checked tiers.
func (h *Hierarchical) Check(ctx context.Context, req Request) (Decision, error) {
	out := Decision{Result: Result{Allowed: true, Remaining: -1}}

	for _, t := range h.tiers {
		key := t.Key(req)
		if key == "" {
			continue
		}
		lim := t.Limiter
		if lim == nil {
			lim = h.def
		}

		res, err := lim.IsAllowed(ctx, t.Name+":"+key, t.Limit, t.Window)
		if err != nil {
			return Decision{Tier: t.Name}, err
		}
		if !res.Allowed {
			return Decision{Result: res, Tier: t.Name}, nil
		}
		if out.Remaining < 0 || res.Remaining < out.Remaining {
			out.Remaining = res.Remaining
		}
		if res.ResetTime.After(out.ResetTime) {
			out.ResetTime = res.ResetTime
		}
	}

	if out.Remaining < 0 {
		out.Remaining = 0
	}
	return out, nil
}
