package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/password"
)

// Config is the complete engine configuration. Build it once at startup,
// usually through config.Load, and treat it as immutable afterwards.
type Config struct {
	Env      string
	LogLevel string

	KV            kv.Config
	Database      DatabaseConfig
	JWT           JWTConfig
	Password      PasswordConfig
	Lockout       LockoutConfig
	RateLimit     RateLimitConfig
	TwoFactor     TwoFactorConfig
	OAuth         OAuthConfig
	Session       SessionConfig
	PasswordReset PasswordResetConfig
	Audit         AuditConfig

	// Workers bounds concurrent argon2id and TOTP work. Zero means GOMAXPROCS.
	Workers int
}

// DatabaseConfig selects the relational store. An empty URL means the
// caller supplies a store through Deps.
type DatabaseConfig struct {
	URL     string
	Migrate bool
}

// JWTConfig configures access-token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// PasswordConfig holds argon2id cost parameters. Memory is in KiB.
type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// LockoutConfig is the failed-login policy per identifier.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
}

// Limiter algorithm names accepted by RateLimitConfig.Algorithm.
const (
	AlgorithmTokenBucket   = "token_bucket"
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmFixedWindow   = "fixed_window"
	AlgorithmAdaptive      = "adaptive"
)

// RateLimitConfig configures the request limiters in front of login,
// two-factor verification and password reset.
type RateLimitConfig struct {
	Algorithm string
	// Timeout bounds each limiter call; on timeout the request is admitted.
	Timeout time.Duration

	GlobalLimit int
	IPLimit     int
	UserLimit   int
	Window      time.Duration

	TwoFactorLimit  int
	TwoFactorWindow time.Duration

	ResetLimit  int
	ResetWindow time.Duration
}

// TwoFactorConfig configures TOTP enrollment and login challenges.
type TwoFactorConfig struct {
	Issuer string
	// EncryptionKey seals stored TOTP secrets; at least 32 bytes.
	EncryptionKey    string
	Period           uint
	Skew             uint
	BackupCodeCount  int
	BackupCodeLength int
	SetupTTL         time.Duration
	LoginTTL         time.Duration
	LoginAttempts    int
	CodeMaxAttempts  int
	CodeCooldown     time.Duration
}

// OAuthProviderConfig is one provider registration. A provider without a
// client ID is not enabled.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// OAuthConfig configures provider sign-in.
type OAuthConfig struct {
	SuccessURL string
	ErrorURL   string
	StateTTL   time.Duration
	Timeout    time.Duration
	GitHub     OAuthProviderConfig
	Google     OAuthProviderConfig
}

// SessionConfig configures the session registry.
type SessionConfig struct {
	ListCacheTTL time.Duration
}

// PasswordResetConfig configures reset tokens.
type PasswordResetConfig struct {
	TTL time.Duration
}

// AuditConfig controls the asynchronous audit pipeline.
type AuditConfig struct {
	Enabled         bool
	BufferSize      int
	DropIfFull      bool
	DeliveryTimeout time.Duration
}

// DefaultConfig returns production defaults. Secrets are left empty and must
// be supplied before Validate passes.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		Env:      "production",
		LogLevel: "info",
		KV: kv.Config{
			Prefix:           "authcore",
			OperationTimeout: 250 * time.Millisecond,
			ReadRetryBackoff: 25 * time.Millisecond,
			UpdateRetries:    8,
			Fallback:         true,
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: string(jwt.MethodHS256),
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:           pw.Memory,
			Time:             pw.Time,
			Parallelism:      pw.Parallelism,
			SaltLength:       pw.SaltLength,
			KeyLength:        pw.KeyLength,
			MaxPasswordBytes: password.DefaultMaxPasswordBytes,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Algorithm:       AlgorithmSlidingWindow,
			Timeout:         250 * time.Millisecond,
			GlobalLimit:     10000,
			IPLimit:         20,
			UserLimit:       10,
			Window:          time.Minute,
			TwoFactorLimit:  10,
			TwoFactorWindow: time.Minute,
			ResetLimit:      3,
			ResetWindow:     time.Hour,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:           "authcore",
			Period:           30,
			Skew:             1,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
			SetupTTL:         600 * time.Second,
			LoginTTL:         300 * time.Second,
			LoginAttempts:    5,
			CodeMaxAttempts:  5,
			CodeCooldown:     time.Minute,
		},
		OAuth: OAuthConfig{
			StateTTL: 10 * time.Minute,
			Timeout:  10 * time.Second,
		},
		Session: SessionConfig{
			ListCacheTTL: 5 * time.Second,
		},
		PasswordReset: PasswordResetConfig{
			TTL: 30 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:         true,
			BufferSize:      1024,
			DropIfFull:      true,
			DeliveryTimeout: 2 * time.Second,
		},
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.JWT.AccessTTL <= 0 {
		add("jwt.access_ttl must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		add("jwt.refresh_ttl must exceed jwt.access_ttl")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case string(jwt.MethodHS256):
		if len(c.JWT.PrivateKey) < 32 {
			add("jwt.private_key must be at least 32 bytes for hs256")
		}
	case string(jwt.MethodEd25519):
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			add("jwt.private_key and jwt.public_key are required for ed25519")
		}
	default:
		add("jwt.signing_method %q is not supported", c.JWT.SigningMethod)
	}

	if c.Lockout.Threshold <= 0 || c.Lockout.Window <= 0 {
		add("lockout.threshold and lockout.window must be positive")
	}

	switch c.RateLimit.Algorithm {
	case AlgorithmTokenBucket, AlgorithmSlidingWindow, AlgorithmFixedWindow, AlgorithmAdaptive:
	default:
		add("rate_limit.algorithm %q is not supported", c.RateLimit.Algorithm)
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.TwoFactorWindow <= 0 || c.RateLimit.ResetWindow <= 0 {
		add("rate_limit windows must be positive")
	}
	if c.RateLimit.IPLimit <= 0 || c.RateLimit.UserLimit <= 0 || c.RateLimit.TwoFactorLimit <= 0 || c.RateLimit.ResetLimit <= 0 {
		add("rate_limit limits must be positive")
	}

	if len(c.TwoFactor.EncryptionKey) < 32 {
		add("two_factor.encryption_key must be at least 32 bytes")
	}
	if c.TwoFactor.BackupCodeCount <= 0 || c.TwoFactor.BackupCodeLength < 8 {
		add("two_factor backup codes need a positive count and at least 8 characters")
	}

	if c.OAuth.GitHub.ClientID != "" || c.OAuth.Google.ClientID != "" {
		if c.OAuth.SuccessURL == "" || c.OAuth.ErrorURL == "" {
			add("oauth.success_url and oauth.error_url are required when a provider is enabled")
		}
	}

	if c.PasswordReset.TTL <= 0 {
		add("password_reset.ttl must be positive")
	}
	return errors.Join(errs...)
}

func (c *Config) jwtConfig() jwt.Config {
	return jwt.Config{
		AccessTTL:     c.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(c.JWT.SigningMethod)),
		PrivateKey:    c.JWT.PrivateKey,
		PublicKey:     c.JWT.PublicKey,
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		Leeway:        c.JWT.Leeway,
	}
}

func (c *Config) passwordConfig() password.Config {
	return password.Config{
		Memory:           c.Password.Memory,
		Time:             c.Password.Time,
		Parallelism:      c.Password.Parallelism,
		SaltLength:       c.Password.SaltLength,
		KeyLength:        c.Password.KeyLength,
		MaxPasswordBytes: c.Password.MaxPasswordBytes,
	}
}
