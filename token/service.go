package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/random"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/metrics"
	"github.com/MrEthical07/authcore/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultRefreshTTL = 30 * 24 * time.Hour
	blacklistTokenKey = "blacklist:token:"
	blacklistUserKey  = "blacklist:user:"
	// blacklistSlack covers clock leeway accepted by the parser.
	blacklistSlack = time.Minute
)

var (
	ErrExpired         = jwt.ErrExpired
	ErrMalformed       = jwt.ErrMalformed
	ErrRevoked         = errors.New("token revoked")
	ErrVersionMismatch = errors.New("token version mismatch")
	// ErrReuseDetected accompanies ErrRevoked when a rotated refresh token
	// was presented again and its family was revoked.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	ErrUnavailable   = errors.New("token store unavailable")
)

// RefreshStore persists refresh tokens.
type RefreshStore interface {
	CreateRefresh(ctx context.Context, t model.RefreshToken) error
	GetRefresh(ctx context.Context, jti string) (model.RefreshToken, error)
	// MarkRotated sets rotated_at and replaced_by only if the token is neither
	// rotated nor revoked, and reports whether it did.
	MarkRotated(ctx context.Context, jti string, at time.Time, replacedBy string) (bool, error)
	RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error)
	RevokeUserRefresh(ctx context.Context, userID string, at time.Time) (int64, error)
}

// VersionSource reads and bumps a subject's token version.
type VersionSource interface {
	TokenVersion(ctx context.Context, userID string) (int64, error)
	BumpTokenVersion(ctx context.Context, userID string) (int64, error)
}

// Options wires a [Service].
type Options struct {
	JWT        *jwt.Manager
	Store      kv.Store
	Refresh    RefreshStore
	Versions   VersionSource
	RefreshTTL time.Duration
	Now        func() time.Time
	Logger     *zap.Logger
	Metrics    *metrics.Collectors
	Audit      audit.Sink
}

// Pair is what a successful login or rotation hands to the client.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	RefreshJTI       string
	FamilyID         string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service implements the token lifecycle.
type Service struct {
	jwt        *jwt.Manager
	store      kv.Store
	refresh    RefreshStore
	versions   VersionSource
	refreshTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Collectors
	audit      audit.Sink
}

// NewService creates a token service.
func NewService(opts Options) (*Service, error) {
	if opts.JWT == nil || opts.Store == nil || opts.Refresh == nil || opts.Versions == nil {
		return nil, errors.New("token: JWT, Store, Refresh and Versions are required")
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = defaultRefreshTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		jwt:        opts.JWT,
		store:      opts.Store,
		refresh:    opts.Refresh,
		versions:   opts.Versions,
		refreshTTL: opts.RefreshTTL,
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		audit:      opts.Audit,
	}, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Issue starts a new token family for subject.
func (s *Service) Issue(ctx context.Context, subject string, claims map[string]any) (Pair, error) {
	version, err := s.versions.TokenVersion(ctx, subject)
	if err != nil {
		return Pair{}, unavailable(err)
	}
	pair, err := s.issuePair(ctx, subject, version, uuid.NewString(), uuid.NewString(), claims)
	if err != nil {
		return Pair{}, err
	}
	s.metrics.TokenEvent("issued")
	return pair, nil
}

func (s *Service) issuePair(ctx context.Context, subject string, version int64, familyID, refreshJTI string, claims map[string]any) (Pair, error) {
	access, ac, err := s.jwt.CreateAccess(subject, uuid.NewString(), version, claims)
	if err != nil {
		return Pair{}, err
	}

	secret, err := random.Token(random.SecretSize)
	if err != nil {
		return Pair{}, err
	}
	now := s.now()
	row := model.RefreshToken{
		JTI:        refreshJTI,
		UserID:     subject,
		FamilyID:   familyID,
		SecretHash: random.HashSecret(secret),
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.refreshTTL),
	}
	if err := s.refresh.CreateRefresh(ctx, row); err != nil {
		return Pair{}, unavailable(err)
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refreshJTI + "." + secret,
		RefreshJTI:       refreshJTI,
		FamilyID:         familyID,
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshExpiresAt: row.ExpiresAt,
	}, nil
}

// VerifyAccess validates token and returns its claims.
func (s *Service) VerifyAccess(ctx context.Context, token string) (*jwt.AccessClaims, error) {
	claims, err := s.jwt.ParseAccess(token)
	if err != nil {
		return nil, err
	}

	n, err := s.store.Exists(ctx, blacklistTokenKey+claims.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	if n > 0 {
		return nil, ErrRevoked
	}

	raw, err := s.store.Get(ctx, blacklistUserKey+claims.Subject)
	switch {
	case err == nil:
		// The entry holds the revocation instant in unix milliseconds.
		revokedAt, perr := strconv.ParseInt(string(raw), 10, 64)
		if perr != nil || claims.IssuedAtMilli() <= revokedAt {
			return nil, ErrRevoked
		}
	case errors.Is(err, kv.ErrNotFound):
	default:
		return nil, unavailable(err)
	}

	current, err := s.versions.TokenVersion(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrRevoked
		}
		return nil, unavailable(err)
	}
	if current != claims.Version {
		return nil, ErrVersionMismatch
	}
	return claims, nil
}

func splitRefresh(token string) (jti, secret string, err error) {
	jti, secret, ok := strings.Cut(token, ".")
	if !ok || jti == "" || secret == "" {
		return "", "", ErrMalformed
	}
	if _, err := uuid.Parse(jti); err != nil {
		return "", "", ErrMalformed
	}
	return jti, secret, nil
}

// lookupRefresh resolves a presented refresh token to its row, checking the
// secret but not its state.
func (s *Service) lookupRefresh(ctx context.Context, token string) (model.RefreshToken, error) {
	jti, secret, err := splitRefresh(token)
	if err != nil {
		return model.RefreshToken{}, err
	}
	row, err := s.refresh.GetRefresh(ctx, jti)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.RefreshToken{}, ErrMalformed
		}
		return model.RefreshToken{}, unavailable(err)
	}
	if !random.Equal(row.SecretHash, random.HashSecret(secret)) {
		return model.RefreshToken{}, ErrMalformed
	}
	return row, nil
}

// Rotate exchanges a current refresh token for a new pair in the same family.
// A token that was already rotated revokes the family.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (Pair, error) {
	row, err := s.lookupRefresh(ctx, refreshToken)
	if err != nil {
		return Pair{}, err
	}

	now := s.now()
	switch {
	case row.RevokedAt != nil:
		return Pair{}, ErrRevoked
	case row.RotatedAt != nil:
		return Pair{}, s.reuseDetected(ctx, row)
	case !now.Before(row.ExpiresAt):
		return Pair{}, ErrExpired
	}

	version, err := s.versions.TokenVersion(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return Pair{}, ErrRevoked
		}
		return Pair{}, unavailable(err)
	}

	next := uuid.NewString()
	ok, err := s.refresh.MarkRotated(ctx, row.JTI, now, next)
	if err != nil {
		return Pair{}, unavailable(err)
	}
	if !ok {
		// Lost a race with a concurrent rotation of the same token.
		return Pair{}, s.reuseDetected(ctx, row)
	}

	pair, err := s.issuePair(ctx, row.UserID, version, row.FamilyID, next, nil)
	if err != nil {
		return Pair{}, err
	}

	// A concurrent reuse may have revoked the family between MarkRotated and
	// the insert above, missing the new row. Re-check and sweep again.
	after, err := s.refresh.GetRefresh(ctx, row.JTI)
	if err != nil {
		return Pair{}, unavailable(err)
	}
	if after.RevokedAt != nil {
		if _, err := s.refresh.RevokeFamily(ctx, row.FamilyID, s.now()); err != nil {
			return Pair{}, unavailable(err)
		}
		return Pair{}, ErrRevoked
	}
	s.metrics.TokenEvent("rotated")
	return pair, nil
}

func (s *Service) reuseDetected(ctx context.Context, row model.RefreshToken) error {
	s.logger.Warn("token: refresh token reuse, revoking family",
		zap.String("user_id", row.UserID),
		zap.String("family_id", row.FamilyID),
	)
	s.metrics.TokenEvent("reuse_detected")
	audit.Emit(ctx, s.audit, s.now(), audit.Event{
		Action:   audit.ActionRefreshReuse,
		UserID:   row.UserID,
		Metadata: map[string]string{"family_id": row.FamilyID},
	})
	if _, err := s.refresh.RevokeFamily(ctx, row.FamilyID, s.now()); err != nil {
		return unavailable(err)
	}
	return fmt.Errorf("%w: %w", ErrRevoked, ErrReuseDetected)
}

// RevokeUser blacklists every access token issued to userID up to now, at
// millisecond precision, and revokes all of the user's refresh tokens.
// Tokens issued afterwards verify normally.
func (s *Service) RevokeUser(ctx context.Context, userID string) error {
	now := s.now()
	ttl := s.jwt.AccessTTL() + blacklistSlack
	if err := s.store.Set(ctx, blacklistUserKey+userID, []byte(strconv.FormatInt(now.UnixMilli(), 10)), ttl); err != nil {
		return unavailable(err)
	}
	if _, err := s.refresh.RevokeUserRefresh(ctx, userID, now); err != nil {
		return unavailable(err)
	}
	s.metrics.TokenEvent("revoked_user")
	return nil
}

// InvalidateAll bumps the user's token version so every access token issued
// before the bump fails with ErrVersionMismatch, and revokes refresh tokens.
func (s *Service) InvalidateAll(ctx context.Context, userID string) error {
	if _, err := s.versions.BumpTokenVersion(ctx, userID); err != nil {
		return unavailable(err)
	}
	if _, err := s.refresh.RevokeUserRefresh(ctx, userID, s.now()); err != nil {
		return unavailable(err)
	}
	s.metrics.TokenEvent("version_bumped")
	return nil
}

// RevokeAccess blacklists a single access token until it expires. Expired
// tokens need no entry.
func (s *Service) RevokeAccess(ctx context.Context, token string) error {
	claims, err := s.jwt.ParseAccess(token)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			return nil
		}
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now()) + blacklistSlack
	if err := s.store.Set(ctx, blacklistTokenKey+claims.ID, []byte("1"), ttl); err != nil {
		return unavailable(err)
	}
	s.metrics.TokenEvent("revoked_access")
	return nil
}

// RevokeFamily revokes every refresh token in familyID.
func (s *Service) RevokeFamily(ctx context.Context, familyID string) error {
	if _, err := s.refresh.RevokeFamily(ctx, familyID, s.now()); err != nil {
		return unavailable(err)
	}
	s.metrics.TokenEvent("revoked_family")
	return nil
}

// RevokeRefresh revokes the family of a presented refresh token and returns
// its row, so callers can end the matching session.
func (s *Service) RevokeRefresh(ctx context.Context, refreshToken string) (model.RefreshToken, error) {
	row, err := s.lookupRefresh(ctx, refreshToken)
	if err != nil {
		return model.RefreshToken{}, err
	}
	if err := s.RevokeFamily(ctx, row.FamilyID); err != nil {
		return model.RefreshToken{}, err
	}
	return row, nil
}
