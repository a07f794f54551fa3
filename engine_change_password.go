package authcore

import (
	"context"
	"strconv"

	"github.com/MrEthical07/authcore/internal/audit"
	"go.uber.org/zap"
)

// ChangePassword replaces the password of userID after re-verifying the old
// one. On success the token version is bumped, so every access token issued
// before the change fails with ErrVersionMismatch, and all refresh tokens and
// sessions are revoked.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if userID == "" || oldPassword == "" {
		return ErrInvalidCredentials
	}
	if err := e.passwords.CheckPolicy(newPassword); err != nil {
		return err
	}

	ok, err := e.passwords.VerifyPassword(ctx, userID, oldPassword)
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		e.emit(ctx, audit.Event{Action: audit.ActionPasswordChanged, UserID: userID, Error: "invalid_old_password"})
		return ErrInvalidCredentials
	}
	same, err := e.passwords.VerifyPassword(ctx, userID, newPassword)
	if err != nil {
		return storeErr(err)
	}
	if same {
		e.emit(ctx, audit.Event{Action: audit.ActionPasswordChanged, UserID: userID, Error: "reuse"})
		return ErrPasswordReuse
	}

	if err := e.passwords.SetPassword(ctx, userID, newPassword); err != nil {
		return storeErr(err)
	}
	if err := e.tokens.InvalidateAll(ctx, userID); err != nil {
		return storeErr(err)
	}
	n, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return storeErr(err)
	}
	if user, err := e.store.GetUser(ctx, userID); err == nil {
		if err := e.attempts.Reset(ctx, normalizeEmail(user.Email)); err != nil {
			e.logger.Warn("authcore: lockout counter not reset", zap.Error(err))
		}
	}
	e.emit(ctx, audit.Event{
		Action:   audit.ActionPasswordChanged,
		UserID:   userID,
		Success:  true,
		Metadata: map[string]string{"sessions": strconv.FormatInt(n, 10)},
	})
	return nil
}
