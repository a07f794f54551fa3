package password

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrEthical07/authcore/internal/workpool"
	"github.com/MrEthical07/authcore/model"
	"github.com/MrEthical07/authcore/store/memory"
)

func cheapConfig() Config {
	return Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newAuthenticator(t *testing.T, cfg Config) (*Authenticator, *memory.Store, string) {
	t.Helper()
	hasher, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	db := memory.New()
	u, err := db.CreateUser(context.Background(), model.User{Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	a, err := NewAuthenticator(hasher, db, workpool.New(2), nil)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	if err := a.SetPassword(context.Background(), u.ID, "correct-horse-battery"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	return a, db, u.ID
}

func TestAuthenticate(t *testing.T) {
	a, _, id := newAuthenticator(t, cheapConfig())
	ctx := context.Background()

	u, err := a.Authenticate(ctx, " alice@example.com ", "correct-horse-battery")
	if err != nil || u.ID != id {
		t.Fatalf("Authenticate = %+v, %v", u, err)
	}
	if _, err := a.Authenticate(ctx, "alice@example.com", "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := a.Authenticate(ctx, "nobody@example.com", "correct-horse-battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
	if _, err := a.Authenticate(ctx, "alice@example.com", strings.Repeat("x", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for oversized input, got %v", err)
	}
}

func TestVerifyPasswordWithoutHash(t *testing.T) {
	a, db, _ := newAuthenticator(t, cheapConfig())
	oauthOnly, _ := db.CreateUser(context.Background(), model.User{Email: "bob@example.com"})

	ok, err := a.VerifyPassword(context.Background(), oauthOnly.ID, "anything-at-all")
	if err != nil || ok {
		t.Fatalf("VerifyPassword = %v, %v", ok, err)
	}
}

func TestAuthenticateUpgradesWeakHash(t *testing.T) {
	a, db, id := newAuthenticator(t, cheapConfig())
	ctx := context.Background()

	stronger := cheapConfig()
	stronger.Time = 2
	hasher, _ := NewArgon2(stronger)
	a.hasher = hasher

	if _, err := a.Authenticate(ctx, "alice@example.com", "correct-horse-battery"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	hash, _ := db.PasswordHash(ctx, id)
	if !strings.Contains(hash, "t=2") {
		t.Fatalf("expected upgraded hash, got %s", hash)
	}
}

func TestCheckPolicyMatchesSetPassword(t *testing.T) {
	cfg := cheapConfig()
	cfg.MaxPasswordBytes = 24
	a, _, id := newAuthenticator(t, cfg)
	ctx := context.Background()

	for _, pw := range []string{"short", strings.Repeat("y", 25)} {
		policyErr := a.CheckPolicy(pw)
		if policyErr == nil {
			t.Fatalf("CheckPolicy(%d bytes) accepted", len(pw))
		}
		if err := a.SetPassword(ctx, id, pw); !errors.Is(err, policyErr) {
			t.Fatalf("SetPassword = %v, want %v", err, policyErr)
		}
	}
	// Rejected passwords leave the stored one in place.
	if ok, err := a.VerifyPassword(ctx, id, "correct-horse-battery"); err != nil || !ok {
		t.Fatalf("VerifyPassword = %v, %v", ok, err)
	}
	if err := a.CheckPolicy("a fine passphrase"); err != nil {
		t.Fatalf("CheckPolicy: %v", err)
	}
}
