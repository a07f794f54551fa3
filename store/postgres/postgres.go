// Package postgres implements every authcore persistence port on PostgreSQL
// through a pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Store is the PostgreSQL persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(pool), nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return model.ErrConflict
	}
	return err
}

func requireRow(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- users ---

const userColumns = `id, email, display_name, avatar_url, totp_enabled, totp_secret, backup_codes, token_version, last_login_at, created_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.AvatarURL, &u.TOTPEnabled, &u.TOTPSecret, &u.BackupCodes, &u.TokenVersion, &u.LastLoginAt, &u.CreatedAt)
	if err != nil {
		return model.User{}, translate(err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.BackupCodes == nil {
		u.BackupCodes = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, display_name, avatar_url, totp_enabled, totp_secret, backup_codes, token_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, u.DisplayName, u.AvatarURL, u.TOTPEnabled, u.TOTPSecret, u.BackupCodes, u.TokenVersion, u.CreatedAt)
	if err != nil {
		return model.User{}, translate(err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *Store) TokenVersion(ctx context.Context, userID string) (int64, error) {
	var v int64
	if err := s.pool.QueryRow(ctx, `SELECT token_version FROM users WHERE id = $1`, userID).Scan(&v); err != nil {
		return 0, translate(err)
	}
	return v, nil
}

func (s *Store) BumpTokenVersion(ctx context.Context, userID string) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `
		UPDATE users SET token_version = token_version + 1 WHERE id = $1 RETURNING token_version
	`, userID).Scan(&v)
	if err != nil {
		return 0, translate(err)
	}
	return v, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return requireRow(s.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, userID, at))
}

func (s *Store) SetPasswordHash(ctx context.Context, userID, hash string) error {
	return requireRow(s.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, hash))
}

func (s *Store) PasswordHash(ctx context.Context, userID string) (string, error) {
	var hash *string
	if err := s.pool.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&hash); err != nil {
		return "", translate(err)
	}
	if hash == nil {
		return "", model.ErrNotFound
	}
	return *hash, nil
}

// --- two-factor ---

func (s *Store) EnableTOTP(ctx context.Context, userID, encryptedSecret string, backupHashes []string) error {
	return requireRow(s.pool.Exec(ctx, `
		UPDATE users SET totp_enabled = TRUE, totp_secret = $2, backup_codes = $3 WHERE id = $1
	`, userID, encryptedSecret, backupHashes))
}

func (s *Store) DisableTOTP(ctx context.Context, userID string) error {
	return requireRow(s.pool.Exec(ctx, `
		UPDATE users SET totp_enabled = FALSE, totp_secret = '', backup_codes = '{}' WHERE id = $1
	`, userID))
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error {
	return requireRow(s.pool.Exec(ctx, `UPDATE users SET backup_codes = $2 WHERE id = $1`, userID, hashes))
}

// ConsumeBackupCode removes hash in a single conditional UPDATE, so two
// concurrent consumers of the same code cannot both succeed.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID, hash string) (int, bool, error) {
	var remaining int
	err := s.pool.QueryRow(ctx, `
		UPDATE users SET backup_codes = array_remove(backup_codes, $2)
		WHERE id = $1 AND $2 = ANY(backup_codes)
		RETURNING cardinality(backup_codes)
	`, userID, hash).Scan(&remaining)
	if err == nil {
		return remaining, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}
	err = s.pool.QueryRow(ctx, `SELECT cardinality(backup_codes) FROM users WHERE id = $1`, userID).Scan(&remaining)
	if err != nil {
		return 0, false, translate(err)
	}
	return remaining, false, nil
}

func (s *Store) RestoreBackupCode(ctx context.Context, userID, hash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET backup_codes = array_append(backup_codes, $2)
		WHERE id = $1 AND NOT ($2 = ANY(backup_codes))
	`, userID, hash)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT true FROM users WHERE id = $1`, userID).Scan(&exists); err != nil {
			return translate(err)
		}
	}
	return nil
}

// --- refresh tokens ---

func (s *Store) CreateRefresh(ctx context.Context, t model.RefreshToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (jti, user_id, family_id, secret_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.JTI, t.UserID, t.FamilyID, t.SecretHash, t.IssuedAt, t.ExpiresAt)
	return translate(err)
}

func (s *Store) GetRefresh(ctx context.Context, jti string) (model.RefreshToken, error) {
	var t model.RefreshToken
	err := s.pool.QueryRow(ctx, `
		SELECT jti, user_id, family_id, secret_hash, issued_at, expires_at, rotated_at, replaced_by, revoked_at
		FROM refresh_tokens WHERE jti = $1
	`, jti).Scan(&t.JTI, &t.UserID, &t.FamilyID, &t.SecretHash, &t.IssuedAt, &t.ExpiresAt, &t.RotatedAt, &t.ReplacedBy, &t.RevokedAt)
	if err != nil {
		return model.RefreshToken{}, translate(err)
	}
	return t, nil
}

// MarkRotated is the compare-and-set step of rotation: it only succeeds for a
// token that is neither rotated nor revoked.
func (s *Store) MarkRotated(ctx context.Context, jti string, at time.Time, replacedBy string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET rotated_at = $2, replaced_by = $3
		WHERE jti = $1 AND rotated_at IS NULL AND revoked_at IS NULL
	`, jti, at, replacedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2 WHERE family_id = $1 AND revoked_at IS NULL
	`, familyID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RevokeUserRefresh(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- sessions ---

const sessionColumns = `id, user_id, family_id, fingerprint, ip, user_agent, created_at, last_seen_at, revoked_at`

func scanSession(row pgx.Row) (model.Session, error) {
	var v model.Session
	err := row.Scan(&v.ID, &v.UserID, &v.FamilyID, &v.Fingerprint, &v.IP, &v.UserAgent, &v.CreatedAt, &v.LastSeenAt, &v.RevokedAt)
	return v, err
}

func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sess.ID, sess.UserID, sess.FamilyID, sess.Fingerprint, sess.IP, sess.UserAgent, sess.CreatedAt, sess.LastSeenAt, sess.RevokedAt)
	return translate(err)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID))
	if err != nil {
		return model.Session{}, translate(err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) RevokeSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL
	`, sessionID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RevokeSessionByFamily(ctx context.Context, familyID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET revoked_at = $2 WHERE family_id = $1 AND revoked_at IS NULL
	`, familyID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- OAuth links ---

func (s *Store) FindOAuthAccount(ctx context.Context, provider, providerUserID string) (model.OAuthAccount, error) {
	var a model.OAuthAccount
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, provider, provider_user_id, email, access_token, refresh_token, token_expiry, created_at, updated_at
		FROM oauth_accounts WHERE provider = $1 AND provider_user_id = $2
	`, provider, providerUserID).Scan(&a.ID, &a.UserID, &a.Provider, &a.ProviderUserID, &a.Email, &a.AccessToken, &a.RefreshToken, &a.TokenExpiry, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.OAuthAccount{}, translate(err)
	}
	return a, nil
}

func (s *Store) CreateOAuthAccount(ctx context.Context, a model.OAuthAccount) (model.OAuthAccount, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_accounts (id, user_id, provider, provider_user_id, email, access_token, refresh_token, token_expiry, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.UserID, a.Provider, a.ProviderUserID, a.Email, a.AccessToken, a.RefreshToken, a.TokenExpiry, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return model.OAuthAccount{}, translate(err)
	}
	return a, nil
}

// UpdateOAuthTokens keeps the stored refresh token when the provider did not
// send a new one.
func (s *Store) UpdateOAuthTokens(ctx context.Context, accountID, accessToken, refreshToken string, expiry *time.Time, at time.Time) error {
	return requireRow(s.pool.Exec(ctx, `
		UPDATE oauth_accounts
		SET access_token = $2,
		    refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
		    token_expiry = $4,
		    updated_at = $5
		WHERE id = $1
	`, accountID, accessToken, refreshToken, expiry, at))
}

// --- audit ---

func (s *Store) InsertAudit(ctx context.Context, entry model.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, action, success, ip, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.UserID, entry.Action, entry.Success, entry.IP, entry.UserAgent, entry.Metadata, entry.CreatedAt)
	return err
}

// AuditLogs returns the most recent audit rows for userID, newest first.
func (s *Store) AuditLogs(ctx context.Context, userID string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, action, success, ip, user_agent, metadata, created_at
		FROM audit_logs WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditLog
	for rows.Next() {
		var a model.AuditLog
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.Success, &a.IP, &a.UserAgent, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
