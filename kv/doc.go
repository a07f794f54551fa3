// Package kv provides the TTL-aware key/value store every authcore component
// keeps its ephemeral state in: rate-limit counters, pending two-factor
// records, blacklist markers and OAuth state.
//
// # Backends
//
//   - [RedisStore]: go-redis v9 client; shared across processes. Increment is
//     a native INCR, Take is GETDEL, Update is an optimistic WATCH/MULTI
//     transaction.
//   - [MemoryStore]: process-local map guarded by a mutex. Same contract, not
//     shared across processes. [Open] falls back to it (and logs once) when
//     Redis is unreachable and fallback is enabled.
//
// # Failure semantics
//
// "Key absent" is reported as [ErrNotFound]; a backend failure is reported as
// [ErrUnavailable]. Callers decide whether to fail open or closed: the rate
// limiter admits on ErrUnavailable, blacklist checks deny.
//
// # What this package must NOT do
//
//   - Decide policy (fail open vs closed) on behalf of callers.
//   - Cache values on its own beyond the explicit [CacheAside] helper.
package kv
