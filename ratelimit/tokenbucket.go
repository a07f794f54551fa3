package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"time"
)

const tokenBucketPrefix = "rl:tb:"

type bucketState struct {
	Tokens float64 `json:"t"`
	Last   int64   `json:"l"` // unix nanos
}

// TokenBucket refills limit tokens per window up to a capacity of limit.
// A key's first request creates the bucket with capacity-1 tokens, so it is
// always admitted.
type TokenBucket struct {
	opts Options
}

// NewTokenBucket creates a token bucket limiter.
func NewTokenBucket(opts Options) *TokenBucket {
	return &TokenBucket{opts: opts}
}

// IsAllowed refills the bucket for the time elapsed since its last request
// and spends one token when one is available.
func (l *TokenBucket) IsAllowed(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.opts.now()
	if limit <= 0 || window <= 0 {
		return denyAll(now, window), nil
	}

	capacity := float64(limit)
	rate := capacity / window.Seconds() // tokens per second

	var res Result
	err := l.opts.Store.Update(ctx, tokenBucketPrefix+key, window, func(cur []byte, exists bool) ([]byte, error) {
		st := bucketState{Tokens: capacity, Last: now.UnixNano()}
		if exists {
			if err := json.Unmarshal(cur, &st); err != nil {
				st = bucketState{Tokens: capacity, Last: now.UnixNano()}
			}
			elapsed := now.Sub(time.Unix(0, st.Last)).Seconds()
			if elapsed > 0 {
				st.Tokens = math.Min(capacity, st.Tokens+elapsed*rate)
			}
		}
		st.Last = now.UnixNano()

		if st.Tokens >= 1 {
			st.Tokens--
			res = Result{
				Allowed:   true,
				Remaining: int(math.Floor(st.Tokens)),
			}
		} else {
			wait := time.Duration((1 - st.Tokens) / rate * float64(time.Second))
			res = Result{
				Allowed:    false,
				Remaining:  0,
				RetryAfter: ceilSeconds(wait),
			}
		}
		full := time.Duration((capacity - st.Tokens) / rate * float64(time.Second))
		res.ResetTime = now.Add(full)
		return json.Marshal(st)
	})
	if err != nil {
		return Result{}, storeErr(err)
	}
	return res, nil
}
