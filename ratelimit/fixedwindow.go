package ratelimit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MrEthical07/authcore/kv"
)

const fixedWindowPrefix = "rl:fw:"

type windowState struct {
	Start int64 `json:"s"` // window boundary, unix nanos
	Count int   `json:"c"`
}

// FixedWindow counts requests per aligned window (floor(now/window)*window).
//
// The counter restarts whenever the boundary advances, so a burst straddling
// a boundary can see up to 2*limit admissions in less than one window. This is
// the algorithm's accepted imprecision; use SlidingWindowLog when it matters.
type FixedWindow struct {
	opts Options
}

// NewFixedWindow creates a fixed-window limiter.
func NewFixedWindow(opts Options) *FixedWindow {
	return &FixedWindow{opts: opts}
}

// IsAllowed counts the request against the current aligned window and
// admits it while the count stays within limit.
func (l *FixedWindow) IsAllowed(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.opts.now()
	if limit <= 0 || window <= 0 {
		return denyAll(now, window), nil
	}

	w := int64(window)
	boundary := time.Unix(0, now.UnixNano()/w*w)
	reset := boundary.Add(window)

	var res Result
	err := l.opts.Store.Update(ctx, fixedWindowPrefix+key, reset.Sub(now), func(cur []byte, exists bool) ([]byte, error) {
		var st windowState
		if exists {
			_ = json.Unmarshal(cur, &st)
		}

		switch {
		case !exists || boundary.UnixNano() > st.Start:
			st = windowState{Start: boundary.UnixNano(), Count: 1}
		case st.Count < limit:
			st.Count++
		default:
			res = Result{
				Allowed:    false,
				Remaining:  0,
				ResetTime:  reset,
				RetryAfter: ceilSeconds(reset.Sub(now)),
			}
			return nil, kv.ErrSkipWrite
		}

		res = Result{Allowed: true, Remaining: limit - st.Count, ResetTime: reset}
		return json.Marshal(st)
	})
	if err != nil {
		return Result{}, storeErr(err)
	}
	return res, nil
}
