package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/twofactor"
)

// BeginTwoFactorSetup starts TOTP enrollment. Nothing is stored on the user
// until ConfirmTwoFactorSetup succeeds.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID string) (twofactor.Setup, error) {
	setup, err := e.twoFactor.BeginSetup(ctx, userID)
	return setup, storeErr(err)
}

// ConfirmTwoFactorSetup enables two-factor once the user proves the
// authenticator works.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, userID, code string) error {
	return storeErr(e.twoFactor.ConfirmSetup(ctx, userID, code))
}

// DisableTwoFactor turns two-factor off after re-checking the password.
// A non-empty code is verified as well.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, password, code string) error {
	return storeErr(e.twoFactor.Disable(ctx, userID, password, code))
}

// RegenerateBackupCodes replaces every backup code of userID.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	codes, err := e.twoFactor.RegenerateBackupCodes(ctx, userID, password)
	return codes, storeErr(err)
}

// TwoFactorStatus reports whether two-factor is on and how many backup codes
// remain.
func (e *Engine) TwoFactorStatus(ctx context.Context, userID string) (enabled bool, backupCodes int, err error) {
	enabled, backupCodes, err = e.twoFactor.Status(ctx, userID)
	return enabled, backupCodes, storeErr(err)
}
