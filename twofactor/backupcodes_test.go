package twofactor

import (
	"strings"
	"testing"
)

func TestBackupCodeFormatting(t *testing.T) {
	code, err := NewBackupCode(10)
	if err != nil {
		t.Fatalf("NewBackupCode: %v", err)
	}
	if len(code) != 10 {
		t.Fatalf("expected 10 chars, got %q", code)
	}
	for _, r := range code {
		if !strings.ContainsRune(BackupCodeAlphabet, r) {
			t.Fatalf("unexpected char %q in %q", r, code)
		}
	}

	formatted := FormatBackupCode(code)
	if formatted[5] != '-' {
		t.Fatalf("expected dash in the middle, got %q", formatted)
	}
	if FormatBackupCode("ABC") != "ABC" {
		t.Fatal("short codes must not be split")
	}
}

func TestCanonicalizeBackupCode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ABCDE-FGHJK", "ABCDEFGHJK"},
		{"  abcde fghjk ", "ABCDEFGHJK"},
		{"abcdefghjk", "ABCDEFGHJK"},
		{" - ", ""},
	}
	for _, tt := range tests {
		if got := CanonicalizeBackupCode(tt.in); got != tt.want {
			t.Fatalf("CanonicalizeBackupCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBackupCodeHashBindsUser(t *testing.T) {
	if BackupCodeHash("u1", "ABC") == BackupCodeHash("u2", "ABC") {
		t.Fatal("hash must depend on the user")
	}
	if BackupCodeHash("u1", "ABC") != BackupCodeHash("u1", "ABC") {
		t.Fatal("hash must be deterministic")
	}
}

func TestSecretCipher(t *testing.T) {
	if _, err := NewSecretCipher([]byte("short")); err != ErrKeyMaterial {
		t.Fatalf("expected ErrKeyMaterial, got %v", err)
	}
	c, err := NewSecretCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewSecretCipher: %v", err)
	}

	a, _ := c.Encrypt("JBSWY3DPEHPK3PXP")
	b, _ := c.Encrypt("JBSWY3DPEHPK3PXP")
	if a == b {
		t.Fatal("nonces must differ between encryptions")
	}
	plain, err := c.Decrypt(a)
	if err != nil || plain != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("Decrypt = %q, %v", plain, err)
	}

	other, _ := NewSecretCipher([]byte("fedcba9876543210fedcba9876543210"))
	if _, err := other.Decrypt(a); err == nil {
		t.Fatal("a different key must not open the secret")
	}
	if _, err := c.Decrypt("AAAA"); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}
