package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/kv"
)

const (
	defaultLoginThreshold = 5
	defaultLoginWindow    = 15 * time.Minute
)

var (
	// ErrAttemptsUnavailable indicates the attempt counter backend is unreachable.
	ErrAttemptsUnavailable = errors.New("login attempt counter unavailable")
)

// LoginAttemptConfig holds the lockout policy.
type LoginAttemptConfig struct {
	// Threshold is the failure count at which the identifier is locked.
	Threshold int
	// Window is the fixed TTL of the counter, set on the first failure.
	Window time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// LoginAttemptCounter counts failed logins per identifier (email or IP).
// The window starts at the first failure and is not extended by later ones.
type LoginAttemptCounter struct {
	store  kv.Store
	config LoginAttemptConfig
}

// NewLoginAttemptCounter creates a counter. Zero-value fields fall back to
// 5 failures per 15 minutes.
func NewLoginAttemptCounter(store kv.Store, cfg LoginAttemptConfig) *LoginAttemptCounter {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultLoginThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultLoginWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LoginAttemptCounter{store: store, config: cfg}
}

func (l *LoginAttemptCounter) key(identifier string) string {
	return "la:" + identifier
}

// RecordFailure increments the counter for identifier and reports whether the
// lockout threshold has been reached.
func (l *LoginAttemptCounter) RecordFailure(ctx context.Context, identifier string) (bool, error) {
	if l == nil || identifier == "" {
		return false, nil
	}

	count, err := bumpWindow(ctx, l.store, l.key(identifier), l.config.Window, l.config.Now)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return count >= int64(l.config.Threshold), nil
}

// Locked reports whether identifier has reached the threshold.
func (l *LoginAttemptCounter) Locked(ctx context.Context, identifier string) (bool, error) {
	n, err := l.Count(ctx, identifier)
	if err != nil {
		return false, err
	}
	return n >= l.config.Threshold, nil
}

// Count returns the current failure count. Missing keys count as zero.
func (l *LoginAttemptCounter) Count(ctx context.Context, identifier string) (int, error) {
	if l == nil || identifier == "" {
		return 0, nil
	}

	n, err := readWindow(ctx, l.store, l.key(identifier), l.config.Now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return int(n), nil
}

// Reset clears the counter after a successful authentication.
func (l *LoginAttemptCounter) Reset(ctx context.Context, identifier string) error {
	if l == nil || identifier == "" {
		return nil
	}
	if _, err := l.store.Delete(ctx, l.key(identifier)); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return nil
}
