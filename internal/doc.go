// Package internal groups helpers that are private to authcore.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - limiters: login lockout counter and per-code attempt limits
//   - random: secret generation and hashing for opaque tokens
//   - workpool: bounded pool for CPU-heavy verification work
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
