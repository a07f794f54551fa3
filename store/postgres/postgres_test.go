package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/model"
	"github.com/google/uuid"
)

func openTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	dsn := os.Getenv("AUTHCORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("set AUTHCORE_TEST_DATABASE_URL to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	s, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	t.Cleanup(s.Close)

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s, ctx
}

func newUser(t *testing.T, ctx context.Context, s *Store) model.User {
	t.Helper()
	u, err := s.CreateUser(ctx, model.User{
		Email:     fmt.Sprintf("user-%s@example.com", uuid.NewString()),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestUserLifecycleIntegration(t *testing.T) {
	s, ctx := openTestStore(t)
	u := newUser(t, ctx, s)

	if _, err := s.CreateUser(ctx, model.User{Email: u.Email, CreatedAt: time.Now()}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}

	found, err := s.FindUserByEmail(ctx, u.Email)
	if err != nil || found.ID != u.ID {
		t.Fatalf("find by email: %+v, %v", found, err)
	}

	if _, err := s.GetUser(ctx, uuid.NewString()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.PasswordHash(ctx, u.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing password, got %v", err)
	}
	if err := s.SetPasswordHash(ctx, u.ID, "argon2id$x"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if h, err := s.PasswordHash(ctx, u.ID); err != nil || h != "argon2id$x" {
		t.Fatalf("password hash = %q, %v", h, err)
	}

	v, err := s.BumpTokenVersion(ctx, u.ID)
	if err != nil || v != 1 {
		t.Fatalf("bump = %d, %v", v, err)
	}
}

func TestConsumeBackupCodeIntegration(t *testing.T) {
	s, ctx := openTestStore(t)
	u := newUser(t, ctx, s)

	if err := s.EnableTOTP(ctx, u.ID, "sealed", []string{"a", "b", "c"}); err != nil {
		t.Fatalf("enable: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ConsumeBackupCode(ctx, u.ID, "b")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one consumer to win, got %d", wins)
	}
	remaining, ok, err := s.ConsumeBackupCode(ctx, u.ID, "b")
	if err != nil || ok || remaining != 2 {
		t.Fatalf("second consume = %d, %v, %v", remaining, ok, err)
	}
}

func TestRefreshRotationIntegration(t *testing.T) {
	s, ctx := openTestStore(t)
	u := newUser(t, ctx, s)
	now := time.Now().UTC()
	family := uuid.NewString()

	tok := model.RefreshToken{
		JTI:        uuid.NewString(),
		UserID:     u.ID,
		FamilyID:   family,
		SecretHash: "h",
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Hour),
	}
	if err := s.CreateRefresh(ctx, tok); err != nil {
		t.Fatalf("create refresh: %v", err)
	}

	ok, err := s.MarkRotated(ctx, tok.JTI, now, "next")
	if err != nil || !ok {
		t.Fatalf("first rotate = %v, %v", ok, err)
	}
	ok, err = s.MarkRotated(ctx, tok.JTI, now, "other")
	if err != nil || ok {
		t.Fatalf("second rotate must lose, got %v, %v", ok, err)
	}

	got, err := s.GetRefresh(ctx, tok.JTI)
	if err != nil || got.ReplacedBy != "next" || got.RotatedAt == nil {
		t.Fatalf("get refresh = %+v, %v", got, err)
	}

	n, err := s.RevokeFamily(ctx, family, now)
	if err != nil || n != 1 {
		t.Fatalf("revoke family = %d, %v", n, err)
	}
}

func TestSessionsAndAuditIntegration(t *testing.T) {
	s, ctx := openTestStore(t)
	u := newUser(t, ctx, s)
	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		err := s.CreateSession(ctx, model.Session{
			UserID:      u.ID,
			FamilyID:    fmt.Sprintf("fam-%d-%s", i, u.ID),
			Fingerprint: "fp",
			CreatedAt:   now.Add(time.Duration(i) * time.Second),
			LastSeenAt:  now,
		})
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	list, err := s.ListSessions(ctx, u.ID)
	if err != nil || len(list) != 2 {
		t.Fatalf("list = %d, %v", len(list), err)
	}
	if !list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Fatal("sessions must be newest first")
	}

	n, err := s.RevokeUserSessions(ctx, u.ID, now)
	if err != nil || n != 2 {
		t.Fatalf("revoke all = %d, %v", n, err)
	}

	err = s.InsertAudit(ctx, model.AuditLog{
		UserID:    u.ID,
		Action:    "auth.logout_all",
		Success:   true,
		Metadata:  map[string]string{"sessions": "2"},
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("insert audit: %v", err)
	}
	logs, err := s.AuditLogs(ctx, u.ID, 10)
	if err != nil || len(logs) != 1 || logs[0].Metadata["sessions"] != "2" {
		t.Fatalf("audit logs = %+v, %v", logs, err)
	}
}
