package ratelimit

import (
	"context"
	"encoding/json"
	"time"
)

const slidingWindowPrefix = "rl:sw:"

// SlidingWindowLog keeps the timestamps of admitted requests and admits a new
// one only while fewer than limit fall inside the trailing window.
type SlidingWindowLog struct {
	opts Options
}

// NewSlidingWindowLog creates a sliding-window log limiter.
func NewSlidingWindowLog(opts Options) *SlidingWindowLog {
	return &SlidingWindowLog{opts: opts}
}

// IsAllowed drops timestamps older than window and admits the request while
// fewer than limit remain.
func (l *SlidingWindowLog) IsAllowed(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.opts.now()
	if limit <= 0 || window <= 0 {
		return denyAll(now, window), nil
	}

	cutoff := now.Add(-window).UnixNano()
	var res Result
	err := l.opts.Store.Update(ctx, slidingWindowPrefix+key, window, func(cur []byte, exists bool) ([]byte, error) {
		var log []int64
		if exists {
			_ = json.Unmarshal(cur, &log)
		}

		kept := log[:0]
		for _, ts := range log {
			if ts > cutoff {
				kept = append(kept, ts)
			}
		}

		if len(kept) < limit {
			kept = append(kept, now.UnixNano())
			res = Result{
				Allowed:   true,
				Remaining: limit - len(kept),
				ResetTime: time.Unix(0, kept[0]).Add(window),
			}
		} else {
			oldest := time.Unix(0, kept[0])
			res = Result{
				Allowed:    false,
				Remaining:  0,
				ResetTime:  oldest.Add(window),
				RetryAfter: ceilSeconds(oldest.Add(window).Sub(now)),
			}
		}
		return json.Marshal(kept)
	})
	if err != nil {
		return Result{}, storeErr(err)
	}
	return res, nil
}
