package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/random"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/metrics"
	"github.com/MrEthical07/authcore/model"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultStateTTL = 10 * time.Minute
	defaultTimeout  = 10 * time.Second
	stateKeyPrefix  = "oauth:state:"
	errorCode       = "oauth_failed"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
	ErrNoVerifiedEmail     = errors.New("no verified email from provider")
	ErrInvalidState        = errors.New("invalid or expired oauth state")
	ErrUnavailable         = errors.New("oauth state store unavailable")
)

// UserStore is the persistence the flow needs to match or create accounts.
type UserStore interface {
	FindOAuthAccount(ctx context.Context, provider, providerUserID string) (model.OAuthAccount, error)
	CreateOAuthAccount(ctx context.Context, a model.OAuthAccount) (model.OAuthAccount, error)
	UpdateOAuthTokens(ctx context.Context, accountID, accessToken, refreshToken string, expiry *time.Time, at time.Time) error
	FindUserByEmail(ctx context.Context, email string) (model.User, error)
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	GetUser(ctx context.Context, userID string) (model.User, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// TokenIssuer mints the authcore token pair for a signed-in user.
type TokenIssuer interface {
	Issue(ctx context.Context, subject string, claims map[string]any) (token.Pair, error)
}

// SessionRecorder records the device session of a login.
type SessionRecorder interface {
	Record(ctx context.Context, req session.RecordRequest) (model.Session, error)
}

// Sealer encrypts provider tokens before they are stored.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
}

// Options wires a [Flow].
type Options struct {
	Providers []Provider
	Store     kv.Store
	Users     UserStore
	Tokens    TokenIssuer
	Sessions  SessionRecorder
	// Sealer is optional; without it provider tokens are stored as received.
	Sealer Sealer

	// SuccessURL receives tokens in its fragment; ErrorURL receives
	// ?error=oauth_failed.
	SuccessURL string
	ErrorURL   string

	StateTTL time.Duration
	// Timeout bounds each provider round trip.
	Timeout time.Duration

	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Collectors
	Audit   audit.Sink
}

// CallbackRequest is what the provider redirect carried back.
type CallbackRequest struct {
	Provider  string
	Code      string
	State     string
	IP        string
	UserAgent string
}

// Redirect is where to send the browser after a callback. Err is for logs
// and tests only; it must not reach the client.
type Redirect struct {
	URL       string
	Err       error
	UserID    string
	SessionID string
	// Created reports that a new local user was created.
	Created bool
}

// Flow runs provider sign-in: redirect, code exchange, account matching and
// session establishment.
type Flow struct {
	providers  map[string]Provider
	store      kv.Store
	users      UserStore
	tokens     TokenIssuer
	sessions   SessionRecorder
	sealer     Sealer
	successURL string
	errorURL   string
	stateTTL   time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Collectors
	audit      audit.Sink
}

// NewFlow creates a flow.
func NewFlow(opts Options) (*Flow, error) {
	if opts.Store == nil || opts.Users == nil || opts.Tokens == nil || opts.Sessions == nil {
		return nil, errors.New("oauth: Store, Users, Tokens and Sessions are required")
	}
	if opts.SuccessURL == "" || opts.ErrorURL == "" {
		return nil, errors.New("oauth: SuccessURL and ErrorURL are required")
	}
	errURL, err := url.Parse(opts.ErrorURL)
	if err != nil {
		return nil, fmt.Errorf("oauth: invalid ErrorURL: %w", err)
	}
	q := errURL.Query()
	q.Set("error", errorCode)
	errURL.RawQuery = q.Encode()

	providers := make(map[string]Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[strings.ToLower(p.Name())] = p
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = defaultStateTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Flow{
		providers:  providers,
		store:      opts.Store,
		users:      opts.Users,
		tokens:     opts.Tokens,
		sessions:   opts.Sessions,
		sealer:     opts.Sealer,
		successURL: opts.SuccessURL,
		errorURL:   errURL.String(),
		stateTTL:   opts.StateTTL,
		timeout:    opts.Timeout,
		now:        opts.Now,
		logger:     opts.Logger.Named("oauth"),
		metrics:    opts.Metrics,
		audit:      opts.Audit,
	}, nil
}

// Providers lists the configured provider names, sorted.
func (f *Flow) Providers() []string {
	names := make([]string, 0, len(f.providers))
	for n := range f.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (f *Flow) provider(name string) (Provider, error) {
	p, ok := f.providers[strings.ToLower(name)]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	return p, nil
}

func stateKey(state string) string {
	return stateKeyPrefix + random.HashSecret(state)
}

// Start returns the provider authorization URL. The state it embeds is
// single-use and bound to the provider.
func (f *Flow) Start(ctx context.Context, providerName string) (string, error) {
	p, err := f.provider(providerName)
	if err != nil {
		return "", err
	}
	state, err := random.Token(random.TokenSize)
	if err != nil {
		return "", err
	}
	if err := f.store.Set(ctx, stateKey(state), []byte(p.Name()), f.stateTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p.AuthCodeURL(state), nil
}

// Callback completes sign-in. Every failure collapses to the same error
// redirect; the cause is logged and returned in Redirect.Err.
func (f *Flow) Callback(ctx context.Context, req CallbackRequest) Redirect {
	label := strings.ToLower(req.Provider)
	if _, ok := f.providers[label]; !ok {
		label = "unsupported"
	}
	r, err := f.callback(ctx, req)
	if err != nil {
		f.logger.Error("oauth: callback failed", zap.String("provider", label), zap.Error(err))
		f.metrics.OAuthCallback(label, metrics.OutcomeFailure)
		return Redirect{URL: f.errorURL, Err: err}
	}
	f.metrics.OAuthCallback(label, metrics.OutcomeSuccess)
	return r
}

func (f *Flow) callback(ctx context.Context, req CallbackRequest) (Redirect, error) {
	p, err := f.provider(req.Provider)
	if err != nil {
		return Redirect{}, err
	}
	if req.State == "" || req.Code == "" {
		return Redirect{}, ErrInvalidState
	}
	bound, err := f.store.Take(ctx, stateKey(req.State))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Redirect{}, ErrInvalidState
		}
		return Redirect{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if string(bound) != p.Name() {
		return Redirect{}, ErrInvalidState
	}

	tok, profile, err := f.fetch(ctx, p, req.Code)
	if err != nil {
		return Redirect{}, err
	}

	user, created, err := f.resolveUser(ctx, p.Name(), profile, tok)
	if err != nil {
		return Redirect{}, err
	}

	pair, err := f.tokens.Issue(ctx, user.ID, nil)
	if err != nil {
		return Redirect{}, fmt.Errorf("oauth: issue tokens: %w", err)
	}
	sess, err := f.sessions.Record(ctx, session.RecordRequest{
		UserID:    user.ID,
		FamilyID:  pair.FamilyID,
		IP:        req.IP,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return Redirect{}, fmt.Errorf("oauth: record session: %w", err)
	}
	now := f.now()
	audit.Emit(ctx, f.audit, now, audit.Event{
		Action:    audit.ActionOAuthLogin,
		UserID:    user.ID,
		SessionID: sess.ID,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Success:   true,
		Metadata:  map[string]string{"provider": p.Name(), "created": strconv.FormatBool(created)},
	})
	if err := f.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return Redirect{}, fmt.Errorf("oauth: touch last login: %w", err)
	}

	return Redirect{
		URL:       f.successRedirect(pair),
		UserID:    user.ID,
		SessionID: sess.ID,
		Created:   created,
	}, nil
}

func (f *Flow) fetch(ctx context.Context, p Provider, code string) (*oauth2.Token, Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	tok, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, Profile{}, fmt.Errorf("oauth: exchange code: %w", err)
	}
	profile, err := p.FetchProfile(ctx, tok)
	if err != nil {
		return nil, Profile{}, err
	}
	if profile.Email == "" {
		return nil, Profile{}, ErrNoVerifiedEmail
	}
	return tok, profile, nil
}

// resolveUser finds the local user for profile: an existing link first, then
// a user with the same verified email, else a new user.
func (f *Flow) resolveUser(ctx context.Context, provider string, profile Profile, tok *oauth2.Token) (model.User, bool, error) {
	access, refresh, expiry, err := f.sealTokens(tok)
	if err != nil {
		return model.User{}, false, err
	}
	now := f.now()

	link, err := f.users.FindOAuthAccount(ctx, provider, profile.ProviderUserID)
	switch {
	case err == nil:
		if err := f.users.UpdateOAuthTokens(ctx, link.ID, access, refresh, expiry, now); err != nil {
			return model.User{}, false, fmt.Errorf("oauth: update link: %w", err)
		}
		user, err := f.users.GetUser(ctx, link.UserID)
		if err != nil {
			return model.User{}, false, fmt.Errorf("oauth: linked user: %w", err)
		}
		return user, false, nil
	case !errors.Is(err, model.ErrNotFound):
		return model.User{}, false, fmt.Errorf("oauth: find link: %w", err)
	}

	created := false
	user, err := f.users.FindUserByEmail(ctx, profile.Email)
	if errors.Is(err, model.ErrNotFound) {
		user, err = f.users.CreateUser(ctx, newUser(profile, now))
		if errors.Is(err, model.ErrConflict) {
			// Lost a race with a concurrent sign-up for the same email.
			user, err = f.users.FindUserByEmail(ctx, profile.Email)
		} else if err == nil {
			created = true
		}
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("oauth: resolve user: %w", err)
	}

	_, err = f.users.CreateOAuthAccount(ctx, model.OAuthAccount{
		UserID:         user.ID,
		Provider:       provider,
		ProviderUserID: profile.ProviderUserID,
		Email:          profile.Email,
		AccessToken:    access,
		RefreshToken:   refresh,
		TokenExpiry:    expiry,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return model.User{}, false, fmt.Errorf("oauth: create link: %w", err)
	}
	return user, created, nil
}

func newUser(p Profile, now time.Time) model.User {
	u := model.User{Email: p.Email, CreatedAt: now}
	if p.Name != "" {
		name := p.Name
		u.DisplayName = &name
	}
	if p.AvatarURL != "" {
		avatar := p.AvatarURL
		u.AvatarURL = &avatar
	}
	return u
}

func (f *Flow) sealTokens(tok *oauth2.Token) (string, string, *time.Time, error) {
	access, refresh := tok.AccessToken, tok.RefreshToken
	if f.sealer != nil {
		var err error
		if access, err = f.sealer.Encrypt(access); err != nil {
			return "", "", nil, fmt.Errorf("oauth: seal token: %w", err)
		}
		if refresh != "" {
			if refresh, err = f.sealer.Encrypt(refresh); err != nil {
				return "", "", nil, fmt.Errorf("oauth: seal token: %w", err)
			}
		}
	}
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry
		expiry = &e
	}
	return access, refresh, expiry, nil
}

func (f *Flow) successRedirect(pair token.Pair) string {
	v := url.Values{}
	v.Set("access_token", pair.AccessToken)
	v.Set("refresh_token", pair.RefreshToken)
	v.Set("token_type", "Bearer")
	v.Set("expires_in", strconv.FormatInt(int64(pair.AccessExpiresAt.Sub(f.now()).Seconds()), 10))
	return f.successURL + "#" + v.Encode()
}
