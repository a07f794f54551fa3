// Package limiters provides the counters authentication flows consult before
// deciding an outcome.
//
// # Limiters
//
//   - [LoginAttemptCounter]: per-identifier (email or IP) failure counter with a
//     fixed TTL window, reset on success, locked at a threshold.
//   - [CodeLimiter]: per-user throttle for wrong two-factor codes.
//
// Counters are written with a single kv.Store Update that carries the window
// TTL, so they never lose updates when the store is shared and never outlive
// their window. All limiters are nil-safe: calling any method on a nil
// receiver is a no-op.
//
// # What this package must NOT do
//
//   - Make policy decisions beyond counting; callers decide consequences.
//   - Fail open. A store error is returned to the caller.
package limiters
