// Package config loads authcore.Config from an optional YAML file, a .env
// file and AUTHCORE_* environment variables, in increasing precedence.
// Secrets are read from the environment only.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. AUTHCORE_JWT_ACCESS_TTL.
const EnvPrefix = "AUTHCORE"

// Load reads path (default "authcore.yaml"; a missing file is fine) and
// returns a validated config.
func Load(path string) (authcore.Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path == "" {
		path = "authcore.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return authcore.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return authcore.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return authcore.Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := authcore.DefaultConfig()

	v.SetDefault("env", d.Env)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("kv.addrs", d.KV.Addrs)
	v.SetDefault("kv.db", d.KV.DB)
	v.SetDefault("kv.prefix", d.KV.Prefix)
	v.SetDefault("kv.operation_timeout", d.KV.OperationTimeout)
	v.SetDefault("kv.read_retry_backoff", d.KV.ReadRetryBackoff)
	v.SetDefault("kv.update_retries", d.KV.UpdateRetries)
	v.SetDefault("kv.fallback", d.KV.Fallback)

	v.SetDefault("database.migrate", false)

	v.SetDefault("jwt.access_ttl", d.JWT.AccessTTL)
	v.SetDefault("jwt.refresh_ttl", d.JWT.RefreshTTL)
	v.SetDefault("jwt.signing_method", d.JWT.SigningMethod)
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.audience", d.JWT.Audience)
	v.SetDefault("jwt.leeway", d.JWT.Leeway)

	v.SetDefault("password.memory", d.Password.Memory)
	v.SetDefault("password.time", d.Password.Time)
	v.SetDefault("password.parallelism", d.Password.Parallelism)
	v.SetDefault("password.salt_length", d.Password.SaltLength)
	v.SetDefault("password.key_length", d.Password.KeyLength)
	v.SetDefault("password.max_password_bytes", d.Password.MaxPasswordBytes)

	v.SetDefault("lockout.threshold", d.Lockout.Threshold)
	v.SetDefault("lockout.window", d.Lockout.Window)

	v.SetDefault("rate_limit.algorithm", d.RateLimit.Algorithm)
	v.SetDefault("rate_limit.timeout", d.RateLimit.Timeout)
	v.SetDefault("rate_limit.global_limit", d.RateLimit.GlobalLimit)
	v.SetDefault("rate_limit.ip_limit", d.RateLimit.IPLimit)
	v.SetDefault("rate_limit.user_limit", d.RateLimit.UserLimit)
	v.SetDefault("rate_limit.window", d.RateLimit.Window)
	v.SetDefault("rate_limit.two_factor_limit", d.RateLimit.TwoFactorLimit)
	v.SetDefault("rate_limit.two_factor_window", d.RateLimit.TwoFactorWindow)
	v.SetDefault("rate_limit.reset_limit", d.RateLimit.ResetLimit)
	v.SetDefault("rate_limit.reset_window", d.RateLimit.ResetWindow)

	v.SetDefault("two_factor.issuer", d.TwoFactor.Issuer)
	v.SetDefault("two_factor.period", d.TwoFactor.Period)
	v.SetDefault("two_factor.skew", d.TwoFactor.Skew)
	v.SetDefault("two_factor.backup_code_count", d.TwoFactor.BackupCodeCount)
	v.SetDefault("two_factor.backup_code_length", d.TwoFactor.BackupCodeLength)
	v.SetDefault("two_factor.setup_ttl", d.TwoFactor.SetupTTL)
	v.SetDefault("two_factor.login_ttl", d.TwoFactor.LoginTTL)
	v.SetDefault("two_factor.login_attempts", d.TwoFactor.LoginAttempts)
	v.SetDefault("two_factor.code_max_attempts", d.TwoFactor.CodeMaxAttempts)
	v.SetDefault("two_factor.code_cooldown", d.TwoFactor.CodeCooldown)

	v.SetDefault("oauth.success_url", "")
	v.SetDefault("oauth.error_url", "")
	v.SetDefault("oauth.state_ttl", d.OAuth.StateTTL)
	v.SetDefault("oauth.timeout", d.OAuth.Timeout)
	v.SetDefault("oauth.github.redirect_url", "")
	v.SetDefault("oauth.github.scopes", []string{})
	v.SetDefault("oauth.google.redirect_url", "")
	v.SetDefault("oauth.google.scopes", []string{})

	v.SetDefault("session.list_cache_ttl", d.Session.ListCacheTTL)
	v.SetDefault("password_reset.ttl", d.PasswordReset.TTL)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)
	v.SetDefault("audit.delivery_timeout", d.Audit.DeliveryTimeout)

	v.SetDefault("workers", d.Workers)
}

func fromViper(v *viper.Viper) (authcore.Config, error) {
	cfg := authcore.DefaultConfig()

	cfg.Env = v.GetString("env")
	cfg.LogLevel = v.GetString("log_level")

	cfg.KV.Addrs = stringSlice(v, "kv.addrs")
	cfg.KV.Username = envString("KV_USERNAME", "")
	cfg.KV.Password = envString("KV_PASSWORD", "")
	cfg.KV.DB = v.GetInt("kv.db")
	cfg.KV.Prefix = v.GetString("kv.prefix")
	cfg.KV.OperationTimeout = v.GetDuration("kv.operation_timeout")
	cfg.KV.ReadRetryBackoff = v.GetDuration("kv.read_retry_backoff")
	cfg.KV.UpdateRetries = v.GetInt("kv.update_retries")
	cfg.KV.Fallback = v.GetBool("kv.fallback")

	cfg.Database.URL = envString("DATABASE_URL", "")
	cfg.Database.Migrate = v.GetBool("database.migrate")

	cfg.JWT.AccessTTL = v.GetDuration("jwt.access_ttl")
	cfg.JWT.RefreshTTL = v.GetDuration("jwt.refresh_ttl")
	cfg.JWT.SigningMethod = v.GetString("jwt.signing_method")
	cfg.JWT.Issuer = v.GetString("jwt.issuer")
	cfg.JWT.Audience = v.GetString("jwt.audience")
	cfg.JWT.Leeway = v.GetDuration("jwt.leeway")
	var err error
	if cfg.JWT.PrivateKey, err = envKey("JWT_PRIVATE_KEY"); err != nil {
		return cfg, err
	}
	if cfg.JWT.PublicKey, err = envKey("JWT_PUBLIC_KEY"); err != nil {
		return cfg, err
	}

	cfg.Password.Memory = v.GetUint32("password.memory")
	cfg.Password.Time = v.GetUint32("password.time")
	cfg.Password.Parallelism = uint8(v.GetUint("password.parallelism"))
	cfg.Password.SaltLength = v.GetUint32("password.salt_length")
	cfg.Password.KeyLength = v.GetUint32("password.key_length")
	cfg.Password.MaxPasswordBytes = v.GetInt("password.max_password_bytes")

	cfg.Lockout.Threshold = v.GetInt("lockout.threshold")
	cfg.Lockout.Window = v.GetDuration("lockout.window")

	cfg.RateLimit.Algorithm = v.GetString("rate_limit.algorithm")
	cfg.RateLimit.Timeout = v.GetDuration("rate_limit.timeout")
	cfg.RateLimit.GlobalLimit = v.GetInt("rate_limit.global_limit")
	cfg.RateLimit.IPLimit = v.GetInt("rate_limit.ip_limit")
	cfg.RateLimit.UserLimit = v.GetInt("rate_limit.user_limit")
	cfg.RateLimit.Window = v.GetDuration("rate_limit.window")
	cfg.RateLimit.TwoFactorLimit = v.GetInt("rate_limit.two_factor_limit")
	cfg.RateLimit.TwoFactorWindow = v.GetDuration("rate_limit.two_factor_window")
	cfg.RateLimit.ResetLimit = v.GetInt("rate_limit.reset_limit")
	cfg.RateLimit.ResetWindow = v.GetDuration("rate_limit.reset_window")

	cfg.TwoFactor.Issuer = v.GetString("two_factor.issuer")
	cfg.TwoFactor.EncryptionKey = envString("TWO_FACTOR_ENCRYPTION_KEY", "")
	cfg.TwoFactor.Period = v.GetUint("two_factor.period")
	cfg.TwoFactor.Skew = v.GetUint("two_factor.skew")
	cfg.TwoFactor.BackupCodeCount = v.GetInt("two_factor.backup_code_count")
	cfg.TwoFactor.BackupCodeLength = v.GetInt("two_factor.backup_code_length")
	cfg.TwoFactor.SetupTTL = v.GetDuration("two_factor.setup_ttl")
	cfg.TwoFactor.LoginTTL = v.GetDuration("two_factor.login_ttl")
	cfg.TwoFactor.LoginAttempts = v.GetInt("two_factor.login_attempts")
	cfg.TwoFactor.CodeMaxAttempts = v.GetInt("two_factor.code_max_attempts")
	cfg.TwoFactor.CodeCooldown = v.GetDuration("two_factor.code_cooldown")

	cfg.OAuth.SuccessURL = v.GetString("oauth.success_url")
	cfg.OAuth.ErrorURL = v.GetString("oauth.error_url")
	cfg.OAuth.StateTTL = v.GetDuration("oauth.state_ttl")
	cfg.OAuth.Timeout = v.GetDuration("oauth.timeout")
	cfg.OAuth.GitHub = authcore.OAuthProviderConfig{
		ClientID:     envString("OAUTH_GITHUB_CLIENT_ID", ""),
		ClientSecret: envString("OAUTH_GITHUB_CLIENT_SECRET", ""),
		RedirectURL:  v.GetString("oauth.github.redirect_url"),
		Scopes:       stringSlice(v, "oauth.github.scopes"),
	}
	cfg.OAuth.Google = authcore.OAuthProviderConfig{
		ClientID:     envString("OAUTH_GOOGLE_CLIENT_ID", ""),
		ClientSecret: envString("OAUTH_GOOGLE_CLIENT_SECRET", ""),
		RedirectURL:  v.GetString("oauth.google.redirect_url"),
		Scopes:       stringSlice(v, "oauth.google.scopes"),
	}

	cfg.Session.ListCacheTTL = v.GetDuration("session.list_cache_ttl")
	cfg.PasswordReset.TTL = v.GetDuration("password_reset.ttl")

	cfg.Audit.Enabled = v.GetBool("audit.enabled")
	cfg.Audit.BufferSize = v.GetInt("audit.buffer_size")
	cfg.Audit.DropIfFull = v.GetBool("audit.drop_if_full")
	cfg.Audit.DeliveryTimeout = v.GetDuration("audit.delivery_timeout")

	cfg.Workers = v.GetInt("workers")
	return cfg, nil
}

// stringSlice accepts both YAML lists and comma-separated env values.
func stringSlice(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func envString(key, def string) string {
	if val := os.Getenv(EnvPrefix + "_" + key); val != "" {
		return val
	}
	return def
}

// envKey reads key material. A "base64:" prefix marks binary keys such as
// ed25519 seeds; anything else is used as raw bytes.
func envKey(key string) ([]byte, error) {
	val := envString(key, "")
	if val == "" {
		return nil, nil
	}
	if enc, ok := strings.CutPrefix(val, "base64:"); ok {
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("%s_%s: %w", EnvPrefix, key, err)
		}
		return b, nil
	}
	return []byte(val), nil
}
