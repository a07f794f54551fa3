package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/kv"
)

const (
	defaultCodeMaxAttempts = 5
	defaultCodeCooldown    = time.Minute
)

var (
	ErrCodeRateLimited = errors.New("two-factor code attempts rate limited")
	ErrCodeUnavailable = errors.New("two-factor code limiter unavailable")
)

// CodeLimiterConfig holds thresholds for the per-user code attempt limiter.
type CodeLimiterConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
	Now         func() time.Time
}

// CodeLimiter throttles wrong TOTP/backup codes per user across every flow
// that accepts one (setup confirmation, disable, login challenge).
type CodeLimiter struct {
	store       kv.Store
	maxAttempts int64
	cooldown    time.Duration
	now         func() time.Time
}

// NewCodeLimiter creates a code limiter. Zero-value fields in cfg fall back
// to defaults (5 attempts / 60s).
func NewCodeLimiter(store kv.Store, cfg CodeLimiterConfig) *CodeLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultCodeMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultCodeCooldown
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CodeLimiter{store: store, maxAttempts: int64(max), cooldown: cd, now: now}
}

func (l *CodeLimiter) key(userID string) string {
	return "2fa:att:" + userID
}

// Check fails with ErrCodeRateLimited once the user exhausted the budget.
func (l *CodeLimiter) Check(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	count, err := readWindow(ctx, l.store, l.key(userID), l.now)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrCodeRateLimited
	}
	return nil
}

// RecordFailure counts a wrong code.
func (l *CodeLimiter) RecordFailure(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	count, err := bumpWindow(ctx, l.store, l.key(userID), l.cooldown, l.now)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrCodeRateLimited
	}
	return nil
}

// Reset clears the counter after a correct code.
func (l *CodeLimiter) Reset(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	if _, err := l.store.Delete(ctx, l.key(userID)); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeUnavailable, err)
	}
	return nil
}
