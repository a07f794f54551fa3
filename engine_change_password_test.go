package authcore

import (
	"context"
	"errors"
	"testing"
)

func TestChangePasswordBumpsTokenVersion(t *testing.T) {
	f := newEngine(t, nil)
	ctx := context.Background()
	u := f.register(t, "kim@example.com")

	res, err := f.engine.Login(ctx, LoginRequest{Email: "kim@example.com", Password: testPassword, IP: "203.0.113.11"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const newPassword = "another long passphrase"
	if err := f.engine.ChangePassword(ctx, u.ID, testPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := f.engine.VerifyAccess(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch for pre-change token, got %v", err)
	}
	if _, err := f.engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked refresh token, got %v", err)
	}
	if sessions, _ := f.engine.Sessions(ctx, u.ID); len(sessions) != 0 {
		t.Fatalf("sessions remain: %v", sessions)
	}

	if _, err := f.engine.Login(ctx, LoginRequest{Email: "kim@example.com", Password: testPassword, IP: "203.0.113.11"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	fresh, err := f.engine.Login(ctx, LoginRequest{Email: "kim@example.com", Password: newPassword, IP: "203.0.113.11"})
	if err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
	if _, err := f.engine.VerifyAccess(ctx, fresh.Tokens.AccessToken); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
}

func TestChangePasswordRejections(t *testing.T) {
	f := newEngine(t, nil)
	ctx := context.Background()
	u := f.register(t, "lee@example.com")

	if err := f.engine.ChangePassword(ctx, u.ID, "wrong old password", "another long passphrase"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.engine.ChangePassword(ctx, u.ID, testPassword, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	if err := f.engine.ChangePassword(ctx, u.ID, testPassword, "short"); err == nil {
		t.Fatal("expected policy error")
	}

	// Nothing above may have changed the password.
	if _, err := f.engine.Login(ctx, LoginRequest{Email: "lee@example.com", Password: testPassword, IP: "203.0.113.12"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
}
