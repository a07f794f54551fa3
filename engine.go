package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/workpool"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/metrics"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store/postgres"
	"github.com/MrEthical07/authcore/token"
	"github.com/MrEthical07/authcore/twofactor"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Store is the persistence the engine needs. store/memory and
// store/postgres both implement it.
type Store interface {
	token.RefreshStore
	token.VersionSource
	twofactor.UserStore
	session.Store
	oauth.UserStore
	password.HashStore
	audit.Inserter
}

// ResetNotifier delivers password reset tokens, usually by email.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error
}

// Deps are the collaborators New cannot build from Config alone. Every
// field is optional except that a Store must come from Deps or from
// Config.Database.
type Deps struct {
	Store Store
	// KV overrides the store opened from Config.KV.
	KV         kv.Store
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Notifier   ResetNotifier
	// LoadSampler feeds the adaptive limiter; nil means host CPU and memory.
	LoadSampler ratelimit.LoadSampler
	// Providers are added to the OAuth providers built from Config.
	Providers []oauth.Provider
	Now       func() time.Time
}

// Engine is the authentication facade: login with lockout and rate limits,
// token lifecycle, two-factor, OAuth sign-in and device sessions.
type Engine struct {
	config Config
	now    func() time.Time
	logger *zap.Logger

	store    Store
	kv       kv.Store
	closers  []func()
	metrics  *metrics.Collectors
	pool     *workpool.Pool
	dispatch *audit.Dispatcher
	audit    audit.Sink

	guard      *ratelimit.Guard
	limiter    ratelimit.Limiter
	loginTiers *ratelimit.Hierarchical
	resetTiers *ratelimit.Hierarchical
	attempts   *limiters.LoginAttemptCounter

	passwords *password.Authenticator
	tokens    *token.Service
	twoFactor *twofactor.Service
	sessions  *session.Registry
	oauth     *oauth.Flow
	notifier  ResetNotifier
}

// New validates cfg and wires every component.
func New(ctx context.Context, cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("authcore: invalid config: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		config:   cfg,
		now:      now,
		logger:   logger,
		notifier: deps.Notifier,
		metrics:  metrics.New(),
		pool:     workpool.New(cfg.Workers),
	}
	if deps.Registerer != nil {
		e.metrics.Register(deps.Registerer)
	}

	if err := e.openStores(ctx, deps); err != nil {
		e.Close()
		return nil, err
	}

	e.dispatch = audit.NewDispatcher(audit.Config{
		Enabled:         cfg.Audit.Enabled,
		BufferSize:      cfg.Audit.BufferSize,
		DropIfFull:      cfg.Audit.DropIfFull,
		DeliveryTimeout: cfg.Audit.DeliveryTimeout,
	}, audit.Multi{audit.NewStoreSink(e.store, logger), audit.NewLogSink(logger)})
	if e.dispatch != nil {
		e.audit = e.dispatch
	}

	if err := e.buildServices(deps); err != nil {
		e.Close()
		return nil, err
	}
	e.buildLimiters(deps)
	return e, nil
}

func (e *Engine) openStores(ctx context.Context, deps Deps) error {
	e.store = deps.Store
	if e.store == nil {
		if e.config.Database.URL == "" {
			return errors.New("authcore: a Store or database URL is required")
		}
		pg, err := postgres.Open(ctx, e.config.Database.URL)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, pg.Close)
		if e.config.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("authcore: migrate: %w", err)
			}
		}
		e.store = pg
	}

	e.kv = deps.KV
	if e.kv == nil {
		store, err := kv.Open(ctx, e.config.KV, e.logger)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, func() { _ = store.Close() })
		e.kv = store
	}
	return nil
}

func (e *Engine) buildServices(deps Deps) error {
	cfg := e.config

	jwtManager, err := jwt.NewManager(cfg.jwtConfig())
	if err != nil {
		return fmt.Errorf("authcore: jwt: %w", err)
	}
	e.tokens, err = token.NewService(token.Options{
		JWT:        jwtManager,
		Store:      e.kv,
		Refresh:    e.store,
		Versions:   e.store,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Now:        e.now,
		Logger:     e.logger,
		Metrics:    e.metrics,
		Audit:      e.audit,
	})
	if err != nil {
		return err
	}

	hasher, err := password.NewArgon2(cfg.passwordConfig())
	if err != nil {
		return fmt.Errorf("authcore: password: %w", err)
	}
	e.passwords, err = password.NewAuthenticator(hasher, e.store, e.pool, e.logger)
	if err != nil {
		return err
	}

	cipher, err := twofactor.NewSecretCipher([]byte(cfg.TwoFactor.EncryptionKey))
	if err != nil {
		return err
	}
	e.twoFactor, err = twofactor.NewService(twofactor.Options{
		Store:           e.kv,
		Users:           e.store,
		Passwords:       e.passwords,
		Cipher:          cipher,
		Issuer:          cfg.TwoFactor.Issuer,
		Period:          cfg.TwoFactor.Period,
		Skew:            cfg.TwoFactor.Skew,
		BackupCodeCount: cfg.TwoFactor.BackupCodeCount,
		BackupCodeLen:   cfg.TwoFactor.BackupCodeLength,
		SetupTTL:        cfg.TwoFactor.SetupTTL,
		LoginTTL:        cfg.TwoFactor.LoginTTL,
		LoginAttempts:   cfg.TwoFactor.LoginAttempts,
		CodeLimit: limiters.CodeLimiterConfig{
			MaxAttempts: cfg.TwoFactor.CodeMaxAttempts,
			Cooldown:    cfg.TwoFactor.CodeCooldown,
		},
		Now:     e.now,
		Logger:  e.logger,
		Metrics: e.metrics,
		Audit:   e.audit,
		Pool:    e.pool,
	})
	if err != nil {
		return err
	}

	e.sessions, err = session.NewRegistry(session.Options{
		Store:    e.store,
		Cache:    e.kv,
		CacheTTL: cfg.Session.ListCacheTTL,
		Now:      e.now,
		Logger:   e.logger,
	})
	if err != nil {
		return err
	}

	providers := append(configuredProviders(cfg.OAuth), deps.Providers...)
	if len(providers) > 0 {
		e.oauth, err = oauth.NewFlow(oauth.Options{
			Providers:  providers,
			Store:      e.kv,
			Users:      e.store,
			Tokens:     e.tokens,
			Sessions:   e.sessions,
			Sealer:     cipher,
			SuccessURL: cfg.OAuth.SuccessURL,
			ErrorURL:   cfg.OAuth.ErrorURL,
			StateTTL:   cfg.OAuth.StateTTL,
			Timeout:    cfg.OAuth.Timeout,
			Now:        e.now,
			Logger:     e.logger,
			Metrics:    e.metrics,
			Audit:      e.audit,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func configuredProviders(cfg OAuthConfig) []oauth.Provider {
	var out []oauth.Provider
	if cfg.GitHub.ClientID != "" {
		out = append(out, oauth.NewGitHub(oauth.ClientConfig{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.GitHub.RedirectURL,
			Scopes:       cfg.GitHub.Scopes,
		}))
	}
	if cfg.Google.ClientID != "" {
		out = append(out, oauth.NewGoogle(oauth.ClientConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Scopes:       cfg.Google.Scopes,
		}))
	}
	return out
}

func (e *Engine) buildLimiters(deps Deps) {
	cfg := e.config.RateLimit
	opts := ratelimit.Options{Store: e.kv, Now: e.now}

	switch cfg.Algorithm {
	case AlgorithmTokenBucket:
		e.limiter = ratelimit.NewTokenBucket(opts)
	case AlgorithmFixedWindow:
		e.limiter = ratelimit.NewFixedWindow(opts)
	case AlgorithmAdaptive:
		sampler := deps.LoadSampler
		if sampler == nil {
			sampler = ratelimit.SystemLoad{}
		}
		e.limiter = ratelimit.NewAdaptive(ratelimit.AdaptiveOptions{
			Options: opts,
			Sampler: sampler,
			Logger:  e.logger,
		})
	default:
		e.limiter = ratelimit.NewSlidingWindowLog(opts)
	}

	e.guard = ratelimit.NewGuard(ratelimit.GuardOptions{
		Timeout: cfg.Timeout,
		Logger:  e.logger,
		Metrics: e.metrics,
	})

	e.loginTiers = ratelimit.NewHierarchical(e.limiter,
		ratelimit.Tier{
			Name:   "global",
			Limit:  cfg.GlobalLimit,
			Window: cfg.Window,
			Key: func(ratelimit.Request) string {
				if cfg.GlobalLimit <= 0 {
					return ""
				}
				return "login:global"
			},
		},
		ratelimit.Tier{
			Name:   "ip",
			Limit:  cfg.IPLimit,
			Window: cfg.Window,
			Key:    keyIf("login:ip:", func(r ratelimit.Request) string { return r.IP }),
		},
		ratelimit.Tier{
			Name:   "user",
			Limit:  cfg.UserLimit,
			Window: cfg.Window,
			Key:    keyIf("login:user:", func(r ratelimit.Request) string { return r.UserID }),
		},
	)

	e.resetTiers = ratelimit.NewHierarchical(e.limiter,
		ratelimit.Tier{
			Name:   "ip",
			Limit:  cfg.ResetLimit * 3,
			Window: cfg.ResetWindow,
			Key:    keyIf("reset:ip:", func(r ratelimit.Request) string { return r.IP }),
		},
		ratelimit.Tier{
			Name:   "user",
			Limit:  cfg.ResetLimit,
			Window: cfg.ResetWindow,
			Key:    keyIf("reset:user:", func(r ratelimit.Request) string { return r.UserID }),
		},
	)

	e.attempts = limiters.NewLoginAttemptCounter(e.kv, limiters.LoginAttemptConfig{
		Threshold: e.config.Lockout.Threshold,
		Window:    e.config.Lockout.Window,
		Now:       e.now,
	})
}

func keyIf(prefix string, field func(ratelimit.Request) string) func(ratelimit.Request) string {
	return func(r ratelimit.Request) string {
		v := field(r)
		if v == "" {
			return ""
		}
		return prefix + v
	}
}

// Close flushes pending audit events and releases stores the engine opened.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.dispatch != nil {
		e.dispatch.Close()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// AuditDropped reports audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.dispatch == nil {
		return 0
	}
	return e.dispatch.Dropped()
}

// Metrics exposes the engine's Prometheus collectors.
func (e *Engine) Metrics() *metrics.Collectors {
	return e.metrics
}

func (e *Engine) emit(ctx context.Context, event audit.Event) {
	audit.Emit(ctx, e.audit, e.now(), event)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// storeErr maps a lower-layer backend failure onto ErrStoreUnavailable while
// keeping the original cause in the chain.
func storeErr(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if IsUnavailable(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
