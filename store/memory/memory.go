// Package memory is a mutex-guarded, in-process implementation of every
// authcore persistence port. It backs tests and single-process development
// setups; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/model"
	"github.com/google/uuid"
)

// Store holds users, refresh tokens, sessions, OAuth links and audit rows.
type Store struct {
	mu        sync.Mutex
	users     map[string]model.User
	passwords map[string]string // userID -> encoded hash
	refresh   map[string]model.RefreshToken
	sessions  map[string]model.Session
	oauth     map[string]model.OAuthAccount // provider + "\x00" + providerUserID
	audit     []model.AuditLog
	writes    int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:     map[string]model.User{},
		passwords: map[string]string{},
		refresh:   map[string]model.RefreshToken{},
		sessions:  map[string]model.Session{},
		oauth:     map[string]model.OAuthAccount{},
	}
}

// Writes counts every mutating call. Tests use it to assert that a failed
// flow touched nothing.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func cloneUser(u model.User) model.User {
	u.BackupCodes = append([]string(nil), u.BackupCodes...)
	return u
}

// --- users ---

// CreateUser inserts u, assigning an id when empty. Emails are unique,
// compared case-insensitively.
func (s *Store) CreateUser(_ context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return model.User{}, model.ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.users[u.ID] = cloneUser(u)
	s.writes++
	return cloneUser(u), nil
}

func (s *Store) GetUser(_ context.Context, userID string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return model.User{}, model.ErrNotFound
}

func (s *Store) TokenVersion(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, model.ErrNotFound
	}
	return u.TokenVersion, nil
}

func (s *Store) BumpTokenVersion(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, model.ErrNotFound
	}
	u.TokenVersion++
	s.users[userID] = u
	s.writes++
	return u.TokenVersion, nil
}

func (s *Store) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	u.LastLoginAt = &at
	s.users[userID] = u
	s.writes++
	return nil
}

// SetPasswordHash stores the encoded password hash for userID.
func (s *Store) SetPasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return model.ErrNotFound
	}
	s.passwords[userID] = hash
	s.writes++
	return nil
}

// PasswordHash returns the encoded hash for userID.
func (s *Store) PasswordHash(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.passwords[userID]
	if !ok {
		return "", model.ErrNotFound
	}
	return h, nil
}

// --- two-factor ---

func (s *Store) EnableTOTP(_ context.Context, userID, encryptedSecret string, backupHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	u.TOTPEnabled = true
	u.TOTPSecret = encryptedSecret
	u.BackupCodes = append([]string(nil), backupHashes...)
	s.users[userID] = u
	s.writes++
	return nil
}

func (s *Store) DisableTOTP(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	u.TOTPEnabled = false
	u.TOTPSecret = ""
	u.BackupCodes = nil
	s.users[userID] = u
	s.writes++
	return nil
}

func (s *Store) ReplaceBackupCodes(_ context.Context, userID string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	u.BackupCodes = append([]string(nil), hashes...)
	s.users[userID] = u
	s.writes++
	return nil
}

// ConsumeBackupCode removes hash from the user's set if present. The check
// and the removal happen under one lock.
func (s *Store) ConsumeBackupCode(_ context.Context, userID, hash string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, false, model.ErrNotFound
	}
	for i, h := range u.BackupCodes {
		if h == hash {
			codes := make([]string, 0, len(u.BackupCodes)-1)
			codes = append(codes, u.BackupCodes[:i]...)
			codes = append(codes, u.BackupCodes[i+1:]...)
			u.BackupCodes = codes
			s.users[userID] = u
			s.writes++
			return len(codes), true, nil
		}
	}
	return len(u.BackupCodes), false, nil
}

func (s *Store) RestoreBackupCode(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	for _, h := range u.BackupCodes {
		if h == hash {
			return nil
		}
	}
	u.BackupCodes = append(append(make([]string, 0, len(u.BackupCodes)+1), u.BackupCodes...), hash)
	s.users[userID] = u
	s.writes++
	return nil
}

// --- refresh tokens ---

func (s *Store) CreateRefresh(_ context.Context, t model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refresh[t.JTI]; ok {
		return model.ErrConflict
	}
	s.refresh[t.JTI] = t
	s.writes++
	return nil
}

func (s *Store) GetRefresh(_ context.Context, jti string) (model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refresh[jti]
	if !ok {
		return model.RefreshToken{}, model.ErrNotFound
	}
	return t, nil
}

func (s *Store) MarkRotated(_ context.Context, jti string, at time.Time, replacedBy string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refresh[jti]
	if !ok {
		return false, model.ErrNotFound
	}
	if t.RotatedAt != nil || t.RevokedAt != nil {
		return false, nil
	}
	t.RotatedAt = &at
	t.ReplacedBy = replacedBy
	s.refresh[jti] = t
	s.writes++
	return true, nil
}

func (s *Store) revokeWhere(at time.Time, match func(model.RefreshToken) bool) int64 {
	var n int64
	for jti, t := range s.refresh {
		if t.RevokedAt == nil && match(t) {
			t.RevokedAt = &at
			s.refresh[jti] = t
			n++
		}
	}
	if n > 0 {
		s.writes++
	}
	return n
}

func (s *Store) RevokeFamily(_ context.Context, familyID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeWhere(at, func(t model.RefreshToken) bool { return t.FamilyID == familyID }), nil
}

func (s *Store) RevokeUserRefresh(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeWhere(at, func(t model.RefreshToken) bool { return t.UserID == userID }), nil
}

// --- sessions ---

func (s *Store) CreateSession(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	s.sessions[sess.ID] = sess
	s.writes++
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return model.Session{}, model.ErrNotFound
	}
	return sess, nil
}

// ListSessions returns the user's active sessions, newest first.
func (s *Store) ListSessions(_ context.Context, userID string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RevokeSession(_ context.Context, sessionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.RevokedAt != nil {
		return false, nil
	}
	sess.RevokedAt = &at
	s.sessions[sessionID] = sess
	s.writes++
	return true, nil
}

func (s *Store) RevokeSessionByFamily(_ context.Context, familyID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.FamilyID == familyID && sess.RevokedAt == nil {
			sess.RevokedAt = &at
			s.sessions[id] = sess
			n++
		}
	}
	if n > 0 {
		s.writes++
	}
	return n, nil
}

func (s *Store) RevokeUserSessions(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			sess.RevokedAt = &at
			s.sessions[id] = sess
			n++
		}
	}
	if n > 0 {
		s.writes++
	}
	return n, nil
}

// --- OAuth links ---

func oauthKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

func (s *Store) FindOAuthAccount(_ context.Context, provider, providerUserID string) (model.OAuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.oauth[oauthKey(provider, providerUserID)]
	if !ok {
		return model.OAuthAccount{}, model.ErrNotFound
	}
	return a, nil
}

func (s *Store) CreateOAuthAccount(_ context.Context, a model.OAuthAccount) (model.OAuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := oauthKey(a.Provider, a.ProviderUserID)
	if _, ok := s.oauth[k]; ok {
		return model.OAuthAccount{}, model.ErrConflict
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.oauth[k] = a
	s.writes++
	return a, nil
}

func (s *Store) UpdateOAuthTokens(_ context.Context, accountID, accessToken, refreshToken string, expiry *time.Time, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, a := range s.oauth {
		if a.ID == accountID {
			a.AccessToken = accessToken
			if refreshToken != "" {
				a.RefreshToken = refreshToken
			}
			a.TokenExpiry = expiry
			a.UpdatedAt = at
			s.oauth[k] = a
			s.writes++
			return nil
		}
	}
	return model.ErrNotFound
}

// --- audit ---

func (s *Store) InsertAudit(_ context.Context, entry model.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.audit = append(s.audit, entry)
	s.writes++
	return nil
}

// AuditLogs returns a copy of the recorded audit rows in insertion order.
func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLog(nil), s.audit...)
}
