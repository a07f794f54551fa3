// Package model defines the rows authcore reads and writes through its
// persistence ports. Optional profile data is modelled with explicit pointer
// fields rather than discovered at runtime.
package model

import (
	"errors"
	"time"
)

// ErrNotFound is returned by persistence ports when a row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a unique constraint (email, provider link) is violated.
var ErrConflict = errors.New("record already exists")

// User holds the authentication-relevant subset of an account.
type User struct {
	ID    string
	Email string
	// Profile fields a provider may or may not supply.
	DisplayName *string
	AvatarURL   *string

	TOTPEnabled bool
	// TOTPSecret is the encrypted TOTP secret; empty when 2FA is disabled.
	TOTPSecret string
	// BackupCodes are hashes of the unused backup codes.
	BackupCodes  []string
	TokenVersion int64
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}

// RefreshToken is the persisted half of a refresh credential. The client
// holds "jti.secret"; only the secret's hash is stored.
type RefreshToken struct {
	JTI        string
	UserID     string
	FamilyID   string
	SecretHash string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RotatedAt  *time.Time
	ReplacedBy string
	RevokedAt  *time.Time
}

// Current reports whether the token may still be exchanged at now.
func (r RefreshToken) Current(now time.Time) bool {
	return r.RotatedAt == nil && r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// Session is one login on one device.
type Session struct {
	ID          string
	UserID      string
	FamilyID    string
	Fingerprint string
	IP          string
	UserAgent   string
	CreatedAt   time.Time
	LastSeenAt  time.Time
	RevokedAt   *time.Time
}

// OAuthAccount links a provider identity to a local user.
type OAuthAccount struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	Email          string
	AccessToken    string
	RefreshToken   string
	TokenExpiry    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AuditLog is one security-relevant event.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Success   bool
	IP        string
	UserAgent string
	Metadata  map[string]string
	CreatedAt time.Time
}
