package twofactor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/random"
	"github.com/MrEthical07/authcore/internal/workpool"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/metrics"
	"github.com/MrEthical07/authcore/model"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

const (
	defaultPeriod          = 30
	defaultSkew            = 1
	defaultBackupCodeCount = 10
	defaultBackupCodeLen   = 10
	defaultSetupTTL        = 600 * time.Second
	defaultLoginTTL        = 300 * time.Second
	defaultLoginAttempts   = 5
	defaultQRSize          = 256
	lowBackupCodes         = 2

	setupKeyPrefix = "2fa:setup:"
	loginKeyPrefix = "2fa:login:"
)

var (
	ErrNoPendingSetup  = errors.New("no pending two-factor setup")
	ErrInvalidCode     = errors.New("invalid two-factor code")
	ErrInvalidSession  = errors.New("invalid or expired two-factor session")
	ErrInvalidPassword = errors.New("invalid password")
	ErrAlreadyEnabled  = errors.New("two-factor already enabled")
	ErrNotEnabled      = errors.New("two-factor not enabled")
	ErrRateLimited     = limiters.ErrCodeRateLimited
	ErrUnavailable     = errors.New("two-factor store unavailable")
)

// UserStore is the slice of user persistence two-factor needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (model.User, error)
	EnableTOTP(ctx context.Context, userID, encryptedSecret string, backupHashes []string) error
	DisableTOTP(ctx context.Context, userID string) error
	ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error
	// ConsumeBackupCode removes hash from the user's set in one atomic step
	// and reports the number of codes left.
	ConsumeBackupCode(ctx context.Context, userID, hash string) (remaining int, ok bool, err error)
	// RestoreBackupCode puts hash back into the user's set unless present.
	RestoreBackupCode(ctx context.Context, userID, hash string) error
}

// PasswordVerifier re-checks a user's password for sensitive changes.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, userID, password string) (bool, error)
}

// Options wires a [Service]. Zero values take the documented defaults.
type Options struct {
	Store     kv.Store
	Users     UserStore
	Passwords PasswordVerifier
	Cipher    *SecretCipher

	Issuer          string
	Period          uint          // seconds per step, default 30
	Skew            uint          // adjacent steps accepted, default 1
	BackupCodeCount int           // default 10
	BackupCodeLen   int           // default 10
	SetupTTL        time.Duration // default 600s
	LoginTTL        time.Duration // default 300s
	LoginAttempts   int           // wrong codes per challenge, default 5

	// CodeLimit throttles wrong codes per user across all challenges.
	CodeLimit limiters.CodeLimiterConfig

	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Collectors
	Audit   audit.Sink
	Pool    *workpool.Pool
}

// Setup is handed to the user once, at the start of enrollment.
type Setup struct {
	Secret          string
	ProvisioningURI string
	QRCodePNG       []byte
	BackupCodes     []string
	ExpiresAt       time.Time
}

// Method says which factor completed a challenge.
type Method string

const (
	MethodTOTP   Method = "totp"
	MethodBackup Method = "backup_code"
)

// Result is the outcome of a completed login challenge.
type Result struct {
	User                 model.User
	Method               Method
	RemainingBackupCodes int

	// Set by CompleteLoginChallenge for Reopen.
	tempToken  string
	pending    pendingLogin
	backupHash string
}

type pendingSetup struct {
	UserID       string    `json:"user_id"`
	Secret       string    `json:"secret"` // sealed with the service cipher
	BackupHashes []string  `json:"backup_hashes"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type pendingLogin struct {
	UserID    string    `json:"user_id"`
	Attempts  int       `json:"attempts"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service implements TOTP enrollment, login challenges and backup codes.
type Service struct {
	store     kv.Store
	users     UserStore
	passwords PasswordVerifier
	cipher    *SecretCipher
	codes     *limiters.CodeLimiter

	issuer        string
	validate      totp.ValidateOpts
	backupCount   int
	backupLen     int
	setupTTL      time.Duration
	loginTTL      time.Duration
	loginAttempts int

	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collectors
	audit   audit.Sink
	pool    *workpool.Pool
}

// NewService creates a two-factor service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Users == nil || opts.Passwords == nil || opts.Cipher == nil {
		return nil, errors.New("twofactor: Store, Users, Passwords and Cipher are required")
	}
	if opts.Issuer == "" {
		opts.Issuer = "authcore"
	}
	if opts.Period == 0 {
		opts.Period = defaultPeriod
	}
	if opts.Skew == 0 {
		opts.Skew = defaultSkew
	}
	if opts.BackupCodeCount <= 0 {
		opts.BackupCodeCount = defaultBackupCodeCount
	}
	if opts.BackupCodeLen <= 0 {
		opts.BackupCodeLen = defaultBackupCodeLen
	}
	if opts.SetupTTL <= 0 {
		opts.SetupTTL = defaultSetupTTL
	}
	if opts.LoginTTL <= 0 {
		opts.LoginTTL = defaultLoginTTL
	}
	if opts.LoginAttempts <= 0 {
		opts.LoginAttempts = defaultLoginAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.CodeLimit.Now = opts.Now
	return &Service{
		store:     opts.Store,
		users:     opts.Users,
		passwords: opts.Passwords,
		cipher:    opts.Cipher,
		codes:     limiters.NewCodeLimiter(opts.Store, opts.CodeLimit),
		issuer:    opts.Issuer,
		validate: totp.ValidateOpts{
			Period:    opts.Period,
			Skew:      opts.Skew,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
		backupCount:   opts.BackupCodeCount,
		backupLen:     opts.BackupCodeLen,
		setupTTL:      opts.SetupTTL,
		loginTTL:      opts.LoginTTL,
		loginAttempts: opts.LoginAttempts,
		now:           opts.Now,
		logger:        opts.Logger.Named("twofactor"),
		metrics:       opts.Metrics,
		audit:         opts.Audit,
		pool:          opts.Pool,
	}, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *Service) emit(ctx context.Context, action, userID string, success bool, meta map[string]string) {
	audit.Emit(ctx, s.audit, s.now(), audit.Event{
		Action:   action,
		UserID:   userID,
		Success:  success,
		Metadata: meta,
	})
}

// BeginSetup starts enrollment for userID. Nothing touches the user record
// until ConfirmSetup succeeds; starting again replaces any pending setup.
func (s *Service) BeginSetup(ctx context.Context, userID string) (Setup, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return Setup{}, err
	}
	if user.TOTPEnabled {
		return Setup{}, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
		Period:      s.validate.Period,
		SecretSize:  20,
		Digits:      s.validate.Digits,
		Algorithm:   s.validate.Algorithm,
	})
	if err != nil {
		return Setup{}, fmt.Errorf("twofactor: generate secret: %w", err)
	}
	qr, err := qrPNG(key)
	if err != nil {
		return Setup{}, err
	}
	codes, hashes, err := newBackupCodeSet(userID, s.backupCount, s.backupLen)
	if err != nil {
		return Setup{}, fmt.Errorf("twofactor: generate backup codes: %w", err)
	}
	sealed, err := s.cipher.Encrypt(key.Secret())
	if err != nil {
		return Setup{}, fmt.Errorf("twofactor: seal secret: %w", err)
	}

	expires := s.now().Add(s.setupTTL)
	raw, err := json.Marshal(pendingSetup{
		UserID:       userID,
		Secret:       sealed,
		BackupHashes: hashes,
		ExpiresAt:    expires,
	})
	if err != nil {
		return Setup{}, err
	}
	if err := s.store.Set(ctx, setupKeyPrefix+userID, raw, s.setupTTL); err != nil {
		return Setup{}, unavailable(err)
	}

	s.metrics.TwoFactorEvent("setup_started")
	return Setup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCodePNG:       qr,
		BackupCodes:     codes,
		ExpiresAt:       expires,
	}, nil
}

func qrPNG(key *otp.Key) ([]byte, error) {
	img, err := key.Image(defaultQRSize, defaultQRSize)
	if err != nil {
		return nil, fmt.Errorf("twofactor: render qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("twofactor: encode qr: %w", err)
	}
	return buf.Bytes(), nil
}

// ConfirmSetup enables two-factor once code matches the pending secret. The
// pending record is consumed before the user row is written, so a confirmed
// setup can never be replayed even if persisting fails.
func (s *Service) ConfirmSetup(ctx context.Context, userID, code string) error {
	key := setupKeyPrefix + userID
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrNoPendingSetup
		}
		return unavailable(err)
	}
	var pending pendingSetup
	if err := json.Unmarshal(raw, &pending); err != nil || pending.UserID != userID {
		return ErrNoPendingSetup
	}
	if err := s.codes.Check(ctx, userID); err != nil {
		return err
	}
	secret, err := s.cipher.Decrypt(pending.Secret)
	if err != nil {
		return ErrNoPendingSetup
	}
	ok, err := s.checkTOTP(ctx, code, secret)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.TwoFactorEvent("setup_failed")
		if err := s.codes.RecordFailure(ctx, userID); err != nil {
			return err
		}
		return ErrInvalidCode
	}

	if _, err := s.store.Take(ctx, key); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			// A concurrent confirmation consumed it first.
			return ErrNoPendingSetup
		}
		return unavailable(err)
	}
	if err := s.users.EnableTOTP(ctx, userID, pending.Secret, pending.BackupHashes); err != nil {
		return unavailable(err)
	}
	_ = s.codes.Reset(ctx, userID)

	s.metrics.TwoFactorEvent("enabled")
	s.emit(ctx, audit.ActionTwoFactorEnabled, userID, true, nil)
	return nil
}

func (s *Service) checkTOTP(ctx context.Context, code, secret string) (bool, error) {
	now := s.now().UTC()
	return workpool.Run(ctx, s.pool, func() (bool, error) {
		ok, err := totp.ValidateCustom(code, secret, now, s.validate)
		if err != nil {
			// Malformed input (wrong length, non-digits) is just a wrong code.
			return false, nil
		}
		return ok, nil
	})
}

// BeginLoginChallenge opens a second-factor challenge for a user whose
// password was already verified, returning an opaque temp token.
func (s *Service) BeginLoginChallenge(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.TOTPEnabled {
		return "", ErrNotEnabled
	}
	tempToken, err := random.Token(random.TokenSize)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(pendingLogin{UserID: userID, ExpiresAt: s.now().Add(s.loginTTL)})
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, loginKey(tempToken), raw, s.loginTTL); err != nil {
		return "", unavailable(err)
	}
	s.metrics.TwoFactorEvent("challenge_started")
	return tempToken, nil
}

// Temp tokens are stored hashed so a KV dump cannot complete a challenge.
func loginKey(tempToken string) string {
	return loginKeyPrefix + random.HashSecret(tempToken)
}

// CompleteLoginChallenge verifies code against the challenge behind
// tempToken: TOTP first, then backup codes. The challenge is consumed by the
// first success; any later attempt fails with ErrInvalidSession.
func (s *Service) CompleteLoginChallenge(ctx context.Context, tempToken, code string) (Result, error) {
	if tempToken == "" {
		return Result{}, ErrInvalidSession
	}
	key := loginKey(tempToken)
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Result{}, ErrInvalidSession
		}
		return Result{}, unavailable(err)
	}
	var pending pendingLogin
	if err := json.Unmarshal(raw, &pending); err != nil {
		return Result{}, ErrInvalidSession
	}
	if err := s.codes.Check(ctx, pending.UserID); err != nil {
		return Result{}, err
	}

	user, err := s.users.GetUser(ctx, pending.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return Result{}, ErrInvalidSession
		}
		return Result{}, unavailable(err)
	}
	if !user.TOTPEnabled {
		_, _ = s.store.Delete(ctx, key)
		return Result{}, ErrInvalidSession
	}

	method, err := s.matchCode(ctx, user, code)
	if err != nil {
		return Result{}, err
	}
	if method == "" {
		return Result{}, s.failChallenge(ctx, key, pending)
	}

	if _, err := s.store.Take(ctx, key); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Result{}, ErrInvalidSession
		}
		return Result{}, unavailable(err)
	}

	res := Result{User: user, Method: method, RemainingBackupCodes: len(user.BackupCodes), tempToken: tempToken, pending: pending}
	if method == MethodBackup {
		hash := BackupCodeHash(user.ID, CanonicalizeBackupCode(code))
		left, ok, err := s.users.ConsumeBackupCode(ctx, user.ID, hash)
		if err != nil {
			_ = s.restoreChallenge(ctx, res)
			return Result{}, unavailable(err)
		}
		if !ok {
			// Spent by a concurrent challenge between match and consume.
			s.metrics.TwoFactorEvent("verify_failed")
			return Result{}, ErrInvalidCode
		}
		res.RemainingBackupCodes = left
		res.backupHash = hash
		res.User.BackupCodes = without(user.BackupCodes, hash)
		s.warnIfLow(ctx, user.ID, left)
	}
	_ = s.codes.Reset(ctx, user.ID)

	s.metrics.TwoFactorEvent("verified")
	s.emit(ctx, audit.ActionTwoFactorVerified, user.ID, true, map[string]string{"method": string(method)})
	return res, nil
}

// Reopen undoes a completed challenge whose login could not be established:
// the consumed backup code goes back into the user's set and the temp token
// becomes valid again for the rest of its lifetime. The verified code is not
// replayable through Reopen alone; the caller must present it again.
func (s *Service) Reopen(ctx context.Context, res Result) error {
	if res.tempToken == "" {
		return ErrInvalidSession
	}
	if res.backupHash != "" {
		if err := s.users.RestoreBackupCode(ctx, res.User.ID, res.backupHash); err != nil {
			return unavailable(err)
		}
	}
	if err := s.restoreChallenge(ctx, res); err != nil {
		return err
	}
	s.metrics.TwoFactorEvent("challenge_reopened")
	return nil
}

func (s *Service) restoreChallenge(ctx context.Context, res Result) error {
	ttl := res.pending.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrInvalidSession
	}
	raw, err := json.Marshal(res.pending)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, loginKey(res.tempToken), raw, ttl); err != nil {
		return unavailable(err)
	}
	return nil
}

func without(hashes []string, hash string) []string {
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h != hash {
			out = append(out, h)
		}
	}
	return out
}

// matchCode reports which factor code satisfies without consuming anything.
func (s *Service) matchCode(ctx context.Context, user model.User, code string) (Method, error) {
	secret, err := s.cipher.Decrypt(user.TOTPSecret)
	if err != nil {
		return "", fmt.Errorf("twofactor: open secret: %w", err)
	}
	ok, err := s.checkTOTP(ctx, code, secret)
	if err != nil {
		return "", err
	}
	if ok {
		return MethodTOTP, nil
	}
	canonical := CanonicalizeBackupCode(code)
	if canonical == "" {
		return "", nil
	}
	hash := BackupCodeHash(user.ID, canonical)
	for _, h := range user.BackupCodes {
		if random.Equal(h, hash) {
			return MethodBackup, nil
		}
	}
	return "", nil
}

func (s *Service) failChallenge(ctx context.Context, key string, pending pendingLogin) error {
	s.metrics.TwoFactorEvent("verify_failed")
	s.emit(ctx, audit.ActionTwoFactorFailed, pending.UserID, false, nil)

	ttl := pending.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		_, _ = s.store.Delete(ctx, key)
		return ErrInvalidSession
	}
	err := s.store.Update(ctx, key, ttl, func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, kv.ErrSkipWrite
		}
		var p pendingLogin
		if err := json.Unmarshal(cur, &p); err != nil {
			return nil, nil
		}
		p.Attempts++
		if p.Attempts >= s.loginAttempts {
			return nil, nil
		}
		return json.Marshal(p)
	})
	if err != nil {
		return unavailable(err)
	}
	if err := s.codes.RecordFailure(ctx, pending.UserID); err != nil {
		return err
	}
	return ErrInvalidCode
}

func (s *Service) warnIfLow(ctx context.Context, userID string, remaining int) {
	if remaining >= lowBackupCodes {
		return
	}
	s.logger.Warn("twofactor: backup codes running low",
		zap.String("user_id", userID),
		zap.Int("remaining", remaining),
	)
	s.metrics.TwoFactorEvent("backup_codes_low")
	s.emit(ctx, audit.ActionBackupCodesLow, userID, true, map[string]string{"remaining": strconv.Itoa(remaining)})
}

func (s *Service) verifyPassword(ctx context.Context, userID, password string) error {
	ok, err := workpool.Run(ctx, s.pool, func() (bool, error) {
		return s.passwords.VerifyPassword(ctx, userID, password)
	})
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return ErrInvalidPassword
	}
	return nil
}

// Disable turns two-factor off. The password alone is sufficient; a non-empty
// code is additionally verified (and a backup code consumed) when the caller
// wants the disable double-guarded.
func (s *Service) Disable(ctx context.Context, userID, password, code string) error {
	if err := s.verifyPassword(ctx, userID, password); err != nil {
		return err
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TOTPEnabled {
		return ErrNotEnabled
	}
	if code != "" {
		if err := s.codes.Check(ctx, userID); err != nil {
			return err
		}
		method, err := s.matchCode(ctx, user, code)
		if err != nil {
			return err
		}
		if method == "" {
			if err := s.codes.RecordFailure(ctx, userID); err != nil {
				return err
			}
			return ErrInvalidCode
		}
		if method == MethodBackup {
			if _, ok, err := s.users.ConsumeBackupCode(ctx, userID, BackupCodeHash(userID, CanonicalizeBackupCode(code))); err != nil {
				return unavailable(err)
			} else if !ok {
				return ErrInvalidCode
			}
		}
	}
	if err := s.users.DisableTOTP(ctx, userID); err != nil {
		return unavailable(err)
	}
	_, _ = s.store.Delete(ctx, setupKeyPrefix+userID)

	s.metrics.TwoFactorEvent("disabled")
	s.emit(ctx, audit.ActionTwoFactorDisabled, userID, true, map[string]string{"code_verified": strconv.FormatBool(code != "")})
	return nil
}

// RegenerateBackupCodes replaces the whole backup-code set after password
// re-verification and returns the new codes for one-time display.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	if err := s.verifyPassword(ctx, userID, password); err != nil {
		return nil, err
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.TOTPEnabled {
		return nil, ErrNotEnabled
	}
	codes, hashes, err := newBackupCodeSet(userID, s.backupCount, s.backupLen)
	if err != nil {
		return nil, fmt.Errorf("twofactor: generate backup codes: %w", err)
	}
	if err := s.users.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, unavailable(err)
	}
	s.metrics.TwoFactorEvent("backup_codes_regenerated")
	s.emit(ctx, audit.ActionBackupCodesReset, userID, true, nil)
	return codes, nil
}

// Status reports whether two-factor is on and how many backup codes remain.
func (s *Service) Status(ctx context.Context, userID string) (bool, int, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return user.TOTPEnabled, len(user.BackupCodes), nil
}
