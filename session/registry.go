package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultListCacheTTL = 5 * time.Second

var (
	ErrNotFound    = errors.New("session not found")
	ErrUnavailable = errors.New("session store unavailable")
)

// Store persists session rows.
type Store interface {
	CreateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	// ListSessions returns the user's unrevoked sessions, newest first.
	ListSessions(ctx context.Context, userID string) ([]model.Session, error)
	RevokeSession(ctx context.Context, sessionID string, at time.Time) (bool, error)
	RevokeSessionByFamily(ctx context.Context, familyID string, at time.Time) (int64, error)
	RevokeUserSessions(ctx context.Context, userID string, at time.Time) (int64, error)
}

// Options wires a [Registry].
type Options struct {
	Store Store
	// Cache holds session lists for display. Nil disables caching.
	Cache kv.Store
	// CacheTTL bounds how long a list can stay stale when an invalidation
	// is lost. Defaults to 5s.
	CacheTTL time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

// RecordRequest describes a login to record.
type RecordRequest struct {
	UserID   string
	FamilyID string
	IP       string
	// UserAgent is stored as given; it is also an input to the fingerprint.
	UserAgent string
	// Fingerprint overrides the computed one when a client supplies its own
	// device identifier.
	Fingerprint string
}

// Registry records and revokes device sessions.
type Registry struct {
	store  Store
	list   *kv.CacheAside[[]model.Session]
	now    func() time.Time
	logger *zap.Logger
}

// NewRegistry creates a registry.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Store == nil {
		return nil, errors.New("session: Store is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultListCacheTTL
	}
	r := &Registry{store: opts.Store, now: opts.Now, logger: opts.Logger}
	if opts.Cache != nil {
		r.list = &kv.CacheAside[[]model.Session]{
			Store: opts.Cache,
			TTL:   opts.CacheTTL,
			Key:   func(userID string) string { return "sessions:list:" + userID },
			Load:  opts.Store.ListSessions,
		}
	}
	return r, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Record appends a session row for a completed login.
func (r *Registry) Record(ctx context.Context, req RecordRequest) (model.Session, error) {
	now := r.now()
	fp := req.Fingerprint
	if fp == "" {
		fp = Fingerprint(req.UserAgent, req.IP)
	}
	s := model.Session{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		FamilyID:    req.FamilyID,
		Fingerprint: fp,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	err := r.write(ctx, req.UserID, func() error {
		return r.store.CreateSession(ctx, s)
	})
	if err != nil {
		return model.Session{}, unavailable(err)
	}
	return s, nil
}

// Get returns one session, revoked or not.
func (r *Registry) Get(ctx context.Context, sessionID string) (model.Session, error) {
	s, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, unavailable(err)
	}
	return s, nil
}

// List returns the user's active sessions, newest first.
func (r *Registry) List(ctx context.Context, userID string) ([]model.Session, error) {
	var (
		out []model.Session
		err error
	)
	if r.list != nil {
		out, err = r.list.Get(ctx, userID)
	} else {
		out, err = r.store.ListSessions(ctx, userID)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// Revoke ends one session.
func (r *Registry) Revoke(ctx context.Context, sessionID string) (model.Session, error) {
	s, err := r.Get(ctx, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	err = r.write(ctx, s.UserID, func() error {
		_, err := r.store.RevokeSession(ctx, sessionID, r.now())
		return err
	})
	if err != nil {
		return model.Session{}, unavailable(err)
	}
	return s, nil
}

// RevokeFamily ends the session bound to a refresh-token family.
func (r *Registry) RevokeFamily(ctx context.Context, userID, familyID string) (int64, error) {
	var n int64
	err := r.write(ctx, userID, func() (err error) {
		n, err = r.store.RevokeSessionByFamily(ctx, familyID, r.now())
		return err
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// RevokeAll ends every session of userID.
func (r *Registry) RevokeAll(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.write(ctx, userID, func() (err error) {
		n, err = r.store.RevokeUserSessions(ctx, userID, r.now())
		return err
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// write runs a session mutation between two list invalidations. The second
// one drops any list a concurrent reader loaded before the write landed and
// cached after the first. It is retried once; a list that still survives
// expires within the cache TTL.
func (r *Registry) write(ctx context.Context, userID string, fn func() error) error {
	if r.list == nil {
		return fn()
	}
	_ = r.list.Invalidate(ctx, userID)
	if err := fn(); err != nil {
		return err
	}
	err := r.list.Invalidate(ctx, userID)
	if err != nil {
		err = r.list.Invalidate(ctx, userID)
	}
	if err != nil {
		r.logger.Warn("session: list cache invalidation failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	return nil
}
