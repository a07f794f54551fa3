package password

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/internal/workpool"
	"github.com/MrEthical07/authcore/model"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCredentials covers unknown email, missing hash and wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnavailable        = errors.New("credential store unavailable")
)

// HashStore persists password hashes next to users.
type HashStore interface {
	FindUserByEmail(ctx context.Context, email string) (model.User, error)
	PasswordHash(ctx context.Context, userID string) (string, error)
	SetPasswordHash(ctx context.Context, userID, hash string) error
}

// Authenticator verifies primary credentials against a HashStore. Argon2 work
// runs on the worker pool.
type Authenticator struct {
	hasher *Argon2
	store  HashStore
	pool   *workpool.Pool
	logger *zap.Logger
	// dummy is verified when the user does not exist so both paths cost the
	// same.
	dummy string
}

// NewAuthenticator creates an authenticator. A nil pool runs hashing inline.
func NewAuthenticator(hasher *Argon2, store HashStore, pool *workpool.Pool, logger *zap.Logger) (*Authenticator, error) {
	if hasher == nil || store == nil {
		return nil, errors.New("password: hasher and store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dummy, err := hasher.Hash("authcore-timing-equalizer")
	if err != nil {
		return nil, err
	}
	return &Authenticator{hasher: hasher, store: store, pool: pool, logger: logger, dummy: dummy}, nil
}

func (a *Authenticator) verify(ctx context.Context, password, hash string) (bool, error) {
	return workpool.Run(ctx, a.pool, func() (bool, error) {
		return a.hasher.Verify(password, hash)
	})
}

// Authenticate returns the user owning email if password matches.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	user, err := a.store.FindUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return model.User{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		_, _ = a.verify(ctx, password, a.dummy)
		return model.User{}, ErrInvalidCredentials
	}
	ok, err := a.check(ctx, user.ID, password)
	if err != nil {
		return model.User{}, err
	}
	if !ok {
		return model.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// VerifyPassword re-checks the password of a known user.
func (a *Authenticator) VerifyPassword(ctx context.Context, userID, password string) (bool, error) {
	return a.check(ctx, userID, password)
}

func (a *Authenticator) check(ctx context.Context, userID, password string) (bool, error) {
	hash, err := a.store.PasswordHash(ctx, userID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// OAuth-only accounts have no password.
		_, _ = a.verify(ctx, password, a.dummy)
		return false, nil
	}
	ok, err := a.verify(ctx, password, hash)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		// Malformed stored hash or oversized input.
		return false, nil
	}
	if ok {
		a.upgrade(ctx, userID, password, hash)
	}
	return ok, nil
}

func (a *Authenticator) upgrade(ctx context.Context, userID, password, hash string) {
	stale, err := a.hasher.NeedsUpgrade(hash)
	if err != nil || !stale {
		return
	}
	fresh, err := workpool.Run(ctx, a.pool, func() (string, error) {
		return a.hasher.Hash(password)
	})
	if err != nil {
		return
	}
	if err := a.store.SetPasswordHash(ctx, userID, fresh); err != nil {
		a.logger.Warn("password: rehash not persisted", zap.String("user_id", userID), zap.Error(err))
	}
}

// CheckPolicy reports whether password would be accepted by SetPassword.
func (a *Authenticator) CheckPolicy(password string) error {
	return a.hasher.CheckLength(password)
}

// SetPassword hashes and stores a new password for userID.
func (a *Authenticator) SetPassword(ctx context.Context, userID, password string) error {
	hash, err := workpool.Run(ctx, a.pool, func() (string, error) {
		return a.hasher.Hash(password)
	})
	if err != nil {
		return err
	}
	if err := a.store.SetPasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
