// Package ratelimit implements the limiter algorithms that guard
// authentication endpoints: token bucket, sliding-window log, fixed window,
// adaptive (load-scaled fixed window) and hierarchical (ordered tiers).
//
// Every algorithm keeps its state in a [kv.Store] under its own key namespace
// and mutates it with [kv.Store.Update], so concurrent callers in different
// processes never lose updates when the store is Redis.
//
// Limiters report store failures as errors. [Guard] turns those into a fail-open
// admission: an outage of the limiter backend must not lock users out.
package ratelimit
