package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/random"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/model"
	"github.com/MrEthical07/authcore/ratelimit"
	"go.uber.org/zap"
)

const resetKeyPrefix = "pwreset:"

// PasswordResetRequest asks for a reset link for Email.
type PasswordResetRequest struct {
	Email     string
	IP        string
	UserAgent string
}

// RequestPasswordReset issues a single-use reset token and hands it to the
// ResetNotifier. It returns nil whether or not the email is registered; the
// only error a caller sees is a rate limit.
func (e *Engine) RequestPasswordReset(ctx context.Context, req PasswordResetRequest) error {
	email := normalizeEmail(req.Email)
	if _, err := e.guard.CheckTiers(ctx, "password_reset", e.resetTiers, ratelimit.Request{
		IP:       req.IP,
		UserID:   email,
		Endpoint: "password_reset",
	}); err != nil {
		return err
	}

	user, err := e.store.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			e.logger.Error("authcore: reset lookup failed", zap.Error(err))
		}
		e.emit(ctx, audit.Event{Action: audit.ActionPasswordReset, IP: req.IP, UserAgent: req.UserAgent, Success: true})
		return nil
	}

	if err := e.issueReset(ctx, user); err != nil {
		e.logger.Error("authcore: reset not issued", zap.String("user_id", user.ID), zap.Error(err))
	}
	e.emit(ctx, audit.Event{
		Action:    audit.ActionPasswordReset,
		UserID:    user.ID,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Success:   true,
	})
	return nil
}

func (e *Engine) issueReset(ctx context.Context, user model.User) error {
	secret, err := random.Token(random.SecretSize)
	if err != nil {
		return err
	}
	ttl := e.config.PasswordReset.TTL
	if err := e.kv.Set(ctx, resetKeyPrefix+random.HashSecret(secret), []byte(user.ID), ttl); err != nil {
		return err
	}
	if e.notifier == nil {
		e.logger.Warn("authcore: no reset notifier configured, token discarded", zap.String("user_id", user.ID))
		return nil
	}
	return e.notifier.SendPasswordReset(ctx, user.Email, secret, e.now().Add(ttl))
}

// ConfirmPasswordReset sets a new password using a reset token. The token is
// consumed exactly once; every existing token and session of the user is
// revoked.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if err := e.passwords.CheckPolicy(newPassword); err != nil {
		return err
	}
	if resetToken == "" {
		return ErrInvalidResetToken
	}
	raw, err := e.kv.Take(ctx, resetKeyPrefix+random.HashSecret(resetToken))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return storeErr(err)
	}
	userID := string(raw)

	if err := e.passwords.SetPassword(ctx, userID, newPassword); err != nil {
		return storeErr(err)
	}
	// A successful reset lifts a lockout on the account.
	if user, err := e.store.GetUser(ctx, userID); err == nil {
		if err := e.attempts.Reset(ctx, normalizeEmail(user.Email)); err != nil {
			e.logger.Warn("authcore: lockout counter not reset", zap.Error(err))
		}
	}
	return e.LogoutAll(ctx, userID)
}
