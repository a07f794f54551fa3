package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/model"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
	"go.uber.org/zap"
)

// LoginRequest is a password login attempt.
type LoginRequest struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// LoginResult is either an established session or a pending second factor.
// When TwoFactorRequired is set, only TempToken is populated.
type LoginResult struct {
	User              model.User
	Tokens            token.Pair
	Session           model.Session
	TwoFactorRequired bool
	TempToken         string
}

// CompleteLoginRequest finishes a login that required a second factor.
type CompleteLoginRequest struct {
	TempToken string
	Code      string
	IP        string
	UserAgent string
}

// Register creates a password account. The email must be unused.
func (e *Engine) Register(ctx context.Context, email, plain string) (model.User, error) {
	if err := e.passwords.CheckPolicy(plain); err != nil {
		return model.User{}, err
	}
	user, err := e.store.CreateUser(ctx, model.User{Email: normalizeEmail(email), CreatedAt: e.now()})
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			return model.User{}, err
		}
		return model.User{}, storeErr(err)
	}
	if err := e.passwords.SetPassword(ctx, user.ID, plain); err != nil {
		return model.User{}, storeErr(err)
	}
	return user, nil
}

// Login checks rate limits and the lockout counter, verifies the password
// and either establishes a session or opens a two-factor challenge.
// Unknown email, wrong password and lockout are distinct errors internally;
// PublicMessage collapses them.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	email := normalizeEmail(req.Email)
	if _, err := e.guard.CheckTiers(ctx, "login", e.loginTiers, ratelimit.Request{
		IP:       req.IP,
		UserID:   email,
		Endpoint: "login",
	}); err != nil {
		e.emit(ctx, audit.Event{Action: audit.ActionLogin, IP: req.IP, UserAgent: req.UserAgent, Error: "rate_limited"})
		return LoginResult{}, err
	}

	locked, err := e.attempts.Locked(ctx, email)
	if err != nil {
		// The counter shares the limiters' fail-open policy.
		e.logger.Warn("authcore: lockout check failed", zap.Error(err))
	}
	if locked {
		e.emit(ctx, audit.Event{Action: audit.ActionLogin, IP: req.IP, UserAgent: req.UserAgent, Error: "locked"})
		return LoginResult{}, ErrAccountLocked
	}

	user, err := e.passwords.Authenticate(ctx, email, req.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			return LoginResult{}, storeErr(err)
		}
		if _, ferr := e.attempts.RecordFailure(ctx, email); ferr != nil {
			e.logger.Warn("authcore: lockout counter not updated", zap.Error(ferr))
		}
		e.emit(ctx, audit.Event{Action: audit.ActionLogin, IP: req.IP, UserAgent: req.UserAgent, Error: "invalid_credentials"})
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := e.attempts.Reset(ctx, email); err != nil {
		e.logger.Warn("authcore: lockout counter not reset", zap.Error(err))
	}

	if user.TOTPEnabled {
		temp, err := e.twoFactor.BeginLoginChallenge(ctx, user.ID)
		if err != nil {
			return LoginResult{}, storeErr(err)
		}
		e.emit(ctx, audit.Event{
			Action:    audit.ActionLoginChallenge,
			UserID:    user.ID,
			IP:        req.IP,
			UserAgent: req.UserAgent,
			Success:   true,
		})
		return LoginResult{User: user, TwoFactorRequired: true, TempToken: temp}, nil
	}

	return e.establish(ctx, user, req.IP, req.UserAgent, "password")
}

// CompleteLogin verifies the second factor of a pending login and
// establishes the session.
func (e *Engine) CompleteLogin(ctx context.Context, req CompleteLoginRequest) (LoginResult, error) {
	if _, err := e.guard.Check(ctx, "twofactor", e.limiter, "2fa:ip:"+req.IP, e.config.RateLimit.TwoFactorLimit, e.config.RateLimit.TwoFactorWindow); err != nil {
		return LoginResult{}, err
	}
	res, err := e.twoFactor.CompleteLoginChallenge(ctx, req.TempToken, req.Code)
	if err != nil {
		return LoginResult{}, storeErr(err)
	}
	out, err := e.establish(ctx, res.User, req.IP, req.UserAgent, string(res.Method))
	if err != nil {
		// No login happened, so the challenge and any backup code spent on
		// it are handed back for a retry.
		if rerr := e.twoFactor.Reopen(ctx, res); rerr != nil {
			e.logger.Warn("authcore: two-factor challenge not reopened", zap.String("user_id", res.User.ID), zap.Error(rerr))
		}
		return LoginResult{}, err
	}
	return out, nil
}

func (e *Engine) establish(ctx context.Context, user model.User, ip, userAgent, method string) (LoginResult, error) {
	pair, err := e.tokens.Issue(ctx, user.ID, nil)
	if err != nil {
		return LoginResult{}, storeErr(err)
	}
	sess, err := e.sessions.Record(ctx, session.RecordRequest{
		UserID:    user.ID,
		FamilyID:  pair.FamilyID,
		IP:        ip,
		UserAgent: userAgent,
	})
	if err != nil {
		if rerr := e.tokens.RevokeFamily(ctx, pair.FamilyID); rerr != nil {
			e.logger.Warn("authcore: unused token family not revoked", zap.String("user_id", user.ID), zap.Error(rerr))
		}
		return LoginResult{}, storeErr(err)
	}
	if err := e.store.TouchLastLogin(ctx, user.ID, e.now()); err != nil {
		e.logger.Warn("authcore: last login not recorded", zap.String("user_id", user.ID), zap.Error(err))
	}
	e.emit(ctx, audit.Event{
		Action:    audit.ActionLogin,
		UserID:    user.ID,
		SessionID: sess.ID,
		IP:        ip,
		UserAgent: userAgent,
		Success:   true,
		Metadata:  map[string]string{"method": method},
	})
	return LoginResult{User: user, Tokens: pair, Session: sess}, nil
}

// Refresh rotates a refresh token. Presenting an already rotated token
// revokes its whole family and the matching session.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	pair, err := e.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrReuseDetected) {
			e.endFamilySession(ctx, refreshToken)
		}
		return token.Pair{}, storeErr(err)
	}
	return pair, nil
}

func (e *Engine) endFamilySession(ctx context.Context, refreshToken string) {
	row, err := e.tokens.RevokeRefresh(ctx, refreshToken)
	if err != nil {
		return
	}
	if _, err := e.sessions.RevokeFamily(ctx, row.UserID, row.FamilyID); err != nil {
		e.logger.Warn("authcore: session of reused family not revoked", zap.String("user_id", row.UserID), zap.Error(err))
	}
}

// VerifyAccess validates an access token.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (*jwt.AccessClaims, error) {
	claims, err := e.tokens.VerifyAccess(ctx, accessToken)
	if err != nil {
		return nil, storeErr(err)
	}
	return claims, nil
}

// LogoutRequest carries the credentials of the session to end. Either token
// may be empty.
type LogoutRequest struct {
	AccessToken  string
	RefreshToken string
	IP           string
	UserAgent    string
}

// Logout blacklists the access token, revokes the refresh family and ends
// the session recorded for it. Already revoked credentials are not an error.
func (e *Engine) Logout(ctx context.Context, req LogoutRequest) error {
	var userID string
	if req.AccessToken != "" {
		if err := e.tokens.RevokeAccess(ctx, req.AccessToken); err != nil && !errors.Is(err, ErrTokenMalformed) {
			return storeErr(err)
		}
	}
	if req.RefreshToken != "" {
		row, err := e.tokens.RevokeRefresh(ctx, req.RefreshToken)
		switch {
		case err == nil:
			userID = row.UserID
			if _, err := e.sessions.RevokeFamily(ctx, row.UserID, row.FamilyID); err != nil {
				return storeErr(err)
			}
		case errors.Is(err, ErrTokenMalformed):
		default:
			return storeErr(err)
		}
	}
	e.emit(ctx, audit.Event{Action: audit.ActionLogout, UserID: userID, IP: req.IP, UserAgent: req.UserAgent, Success: true})
	return nil
}

// LogoutAll invalidates every token of userID, by version bump and
// blacklist, and revokes all sessions.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if err := e.tokens.InvalidateAll(ctx, userID); err != nil {
		return storeErr(err)
	}
	if err := e.tokens.RevokeUser(ctx, userID); err != nil {
		return storeErr(err)
	}
	n, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return storeErr(err)
	}
	e.emit(ctx, audit.Event{
		Action:   audit.ActionLogoutAll,
		UserID:   userID,
		Success:  true,
		Metadata: map[string]string{"sessions": strconv.FormatInt(n, 10)},
	})
	return nil
}
