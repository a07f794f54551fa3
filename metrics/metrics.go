// Package metrics holds the Prometheus collectors authcore components report
// to. A nil *Collectors is valid and records nothing, so components can be
// constructed without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared across collectors.
const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeFailOpen = "fail_open"
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
)

// Collectors groups every authcore metric.
type Collectors struct {
	RateLimitDecisions *prometheus.CounterVec
	RateLimitFailOpen  *prometheus.CounterVec
	TokenEvents        *prometheus.CounterVec
	TwoFactorEvents    *prometheus.CounterVec
	OAuthCallbacks     *prometheus.CounterVec
}

// New builds the collectors without registering them.
func New() *Collectors {
	return &Collectors{
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_ratelimit_decisions_total",
				Help: "Rate limiter decisions by limiter and outcome.",
			},
			[]string{"limiter", "outcome"},
		),
		RateLimitFailOpen: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_ratelimit_fail_open_total",
				Help: "Requests admitted because the limiter backend failed.",
			},
			[]string{"limiter"},
		),
		TokenEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_token_events_total",
				Help: "Token lifecycle events (issued, rotated, reuse_detected, revoked).",
			},
			[]string{"event"},
		),
		TwoFactorEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_twofactor_events_total",
				Help: "Two-factor events (setup, confirmed, totp_ok, backup_used, failed, disabled).",
			},
			[]string{"event"},
		),
		OAuthCallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_oauth_callbacks_total",
				Help: "OAuth callbacks by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
	}
}

// Register adds every collector to registry.
func (c *Collectors) Register(registry prometheus.Registerer) {
	registry.MustRegister(
		c.RateLimitDecisions,
		c.RateLimitFailOpen,
		c.TokenEvents,
		c.TwoFactorEvents,
		c.OAuthCallbacks,
	)
}

// Family is one named counter vector.
type Family struct {
	Name string
	Help string
	Vec  *prometheus.CounterVec
}

// Families lists every counter vector with its metric name, for exporters
// that bridge the collectors into another metrics API.
func (c *Collectors) Families() []Family {
	if c == nil {
		return nil
	}
	return []Family{
		{Name: "authcore_ratelimit_decisions_total", Help: "Rate limiter decisions by limiter and outcome.", Vec: c.RateLimitDecisions},
		{Name: "authcore_ratelimit_fail_open_total", Help: "Requests admitted because the limiter backend failed.", Vec: c.RateLimitFailOpen},
		{Name: "authcore_token_events_total", Help: "Token lifecycle events.", Vec: c.TokenEvents},
		{Name: "authcore_twofactor_events_total", Help: "Two-factor events.", Vec: c.TwoFactorEvents},
		{Name: "authcore_oauth_callbacks_total", Help: "OAuth callbacks by provider and outcome.", Vec: c.OAuthCallbacks},
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RateLimitDecision counts one limiter outcome; fail-open outcomes are also
// counted on their own. All recorders are nil-safe.
func (c *Collectors) RateLimitDecision(limiter, outcome string) {
	if c == nil {
		return
	}
	c.RateLimitDecisions.WithLabelValues(limiter, outcome).Inc()
	if outcome == OutcomeFailOpen {
		c.RateLimitFailOpen.WithLabelValues(limiter).Inc()
	}
}

func (c *Collectors) TokenEvent(event string) {
	if c == nil {
		return
	}
	c.TokenEvents.WithLabelValues(event).Inc()
}

func (c *Collectors) TwoFactorEvent(event string) {
	if c == nil {
		return
	}
	c.TwoFactorEvents.WithLabelValues(event).Inc()
}

func (c *Collectors) OAuthCallback(provider, outcome string) {
	if c == nil {
		return
	}
	c.OAuthCallbacks.WithLabelValues(provider, outcome).Inc()
}
