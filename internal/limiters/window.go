package limiters

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/kv"
)

// A window counter is stored as "count:deadline" with the deadline in unix
// milliseconds. Every write carries a TTL of one window, so the key always
// expires on its own; the embedded deadline keeps the window fixed at the
// first failure even though later writes refresh the TTL.

func encodeWindow(count int64, deadline time.Time) []byte {
	b := strconv.AppendInt(nil, count, 10)
	b = append(b, ':')
	return strconv.AppendInt(b, deadline.UnixMilli(), 10)
}

func decodeWindow(raw []byte) (int64, time.Time, bool) {
	i := bytes.IndexByte(raw, ':')
	if i < 0 {
		return 0, time.Time{}, false
	}
	count, err := strconv.ParseInt(string(raw[:i]), 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	ms, err := strconv.ParseInt(string(raw[i+1:]), 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return count, time.UnixMilli(ms), true
}

// bumpWindow adds one failure in a single atomic Update and returns the new
// count. An elapsed or unreadable entry starts a fresh window.
func bumpWindow(ctx context.Context, store kv.Store, key string, window time.Duration, now func() time.Time) (int64, error) {
	var count int64
	err := store.Update(ctx, key, window, func(cur []byte, exists bool) ([]byte, error) {
		t := now()
		n, deadline, ok := decodeWindow(cur)
		if !exists || !ok || !t.Before(deadline) {
			n, deadline = 0, t.Add(window)
		}
		count = n + 1
		return encodeWindow(count, deadline), nil
	})
	return count, err
}

// readWindow returns the live count for key. Missing, elapsed and unreadable
// entries count as zero.
func readWindow(ctx context.Context, store kv.Store, key string, now func() time.Time) (int64, error) {
	raw, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, deadline, ok := decodeWindow(raw)
	if !ok || !now().Before(deadline) {
		return 0, nil
	}
	return n, nil
}
