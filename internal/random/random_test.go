package random

import (
	"encoding/base64"
	"testing"
)

func TestTokenIsURLSafeAndUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := Token(TokenSize)
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil || len(raw) != TokenSize {
			t.Fatalf("token %q does not decode to %d bytes: %v", tok, TokenSize, err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestBytesRejectsNonPositiveSize(t *testing.T) {
	if _, err := Bytes(0); err == nil {
		t.Fatal("expected error for zero size")
	}
}

func TestHashSecret(t *testing.T) {
	h := HashSecret("s3cret")
	if len(h) != 64 {
		t.Fatalf("hash length = %d", len(h))
	}
	if !Equal(h, HashSecret("s3cret")) {
		t.Fatal("hash must be deterministic")
	}
	if Equal(h, HashSecret("other")) {
		t.Fatal("different secrets must not match")
	}
}
