package authcore

import (
	"errors"

	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
	"github.com/MrEthical07/authcore/twofactor"
)

// Errors returned by Engine methods. Each is the owning package's sentinel,
// so errors.Is matches whichever layer produced it.
var (
	ErrRateLimited          = ratelimit.ErrRateLimited
	ErrInvalidCredentials   = password.ErrInvalidCredentials
	ErrAccountLocked        = errors.New("account locked")
	ErrTokenExpired         = token.ErrExpired
	ErrTokenMalformed       = token.ErrMalformed
	ErrTokenRevoked         = token.ErrRevoked
	ErrVersionMismatch      = token.ErrVersionMismatch
	ErrNoPendingSetup       = twofactor.ErrNoPendingSetup
	ErrInvalidTwoFactorCode = twofactor.ErrInvalidCode
	ErrInvalidSession       = twofactor.ErrInvalidSession
	ErrUnsupportedProvider  = oauth.ErrUnsupportedProvider
	ErrNoVerifiedEmail      = oauth.ErrNoVerifiedEmail
	ErrStoreUnavailable     = kv.ErrUnavailable

	// ErrInvalidResetToken is returned for unknown, expired or used reset tokens.
	ErrInvalidResetToken = errors.New("invalid or expired password reset token")
	ErrSessionNotFound   = session.ErrNotFound
	// ErrPasswordReuse rejects a password change to the current password.
	ErrPasswordReuse = errors.New("new password must differ from the current one")
)

// RateLimitedError carries the retry-after hint; it matches ErrRateLimited.
type RateLimitedError = ratelimit.RateLimitedError

// IsUnavailable reports whether err came from an unreachable backend in any
// layer.
func IsUnavailable(err error) bool {
	return errors.Is(err, kv.ErrUnavailable) ||
		errors.Is(err, token.ErrUnavailable) ||
		errors.Is(err, twofactor.ErrUnavailable) ||
		errors.Is(err, session.ErrUnavailable) ||
		errors.Is(err, password.ErrUnavailable) ||
		errors.Is(err, oauth.ErrUnavailable) ||
		errors.Is(err, ratelimit.ErrUnavailable)
}

// PublicMessage maps err to the text a client may see. Credential failures
// and lockouts share one message so responses do not reveal whether an
// account exists.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "too many requests, try again later"
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountLocked):
		return "invalid credentials"
	case errors.Is(err, ErrInvalidTwoFactorCode), errors.Is(err, twofactor.ErrRateLimited):
		return "invalid verification code"
	case errors.Is(err, ErrInvalidSession), errors.Is(err, ErrNoPendingSetup):
		return "verification session expired, start again"
	case errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrVersionMismatch):
		return "invalid or expired token"
	case errors.Is(err, ErrInvalidResetToken):
		return "invalid or expired reset link"
	case errors.Is(err, ErrUnsupportedProvider), errors.Is(err, ErrNoVerifiedEmail):
		return "sign-in with this provider failed"
	case IsUnavailable(err):
		return "service temporarily unavailable"
	default:
		return "request failed"
	}
}
