package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func registered(sub, jti string, iat, exp time.Time) gjwt.RegisteredClaims {
	return gjwt.RegisteredClaims{
		Subject:   sub,
		ID:        jti,
		IssuedAt:  gjwt.NewNumericDate(iat),
		ExpiresAt: gjwt.NewNumericDate(exp),
	}
}

func TestCreateAndParseRoundTrip(t *testing.T) {
	m, err := NewManager(Config{AccessTTL: 15 * time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok, issued, err := m.CreateAccess("user-1", "jti-1", 7, map[string]any{"role": "admin"})
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	claims, err := m.ParseAccess(tok)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != "user-1" || claims.ID != "jti-1" || claims.Version != 7 {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.Extra["role"] != "admin" {
		t.Fatalf("extra claims lost: %+v", claims.Extra)
	}
	if !claims.ExpiresAt.Time.Equal(issued.ExpiresAt.Time) {
		t.Fatalf("exp mismatch: %v vs %v", claims.ExpiresAt, issued.ExpiresAt)
	}
}

func TestIssuedAtKeepsMilliseconds(t *testing.T) {
	at := time.Unix(1_700_000_000, 750*int64(time.Millisecond))
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Now:           func() time.Time { return at },
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, _, err := m.CreateAccess("user-1", "jti-1", 0, nil)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	claims, err := m.ParseAccess(tok)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.IssuedAt.Unix() != 1_700_000_000 {
		t.Fatalf("iat = %v, want whole seconds", claims.IssuedAt)
	}
	if got := claims.IssuedAtMilli(); got != at.UnixMilli() {
		t.Fatalf("IssuedAtMilli = %d, want %d", got, at.UnixMilli())
	}

	legacy := &AccessClaims{RegisteredClaims: registered("u", "j", at, at.Add(time.Minute))}
	if got := legacy.IssuedAtMilli(); got != 1_700_000_000_000 {
		t.Fatalf("legacy IssuedAtMilli = %d", got)
	}
}

func TestParseAccessExpiredVersusMalformed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef"), Now: clock})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, _, err := m.CreateAccess("u", "j", 0, nil)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := m.ParseAccess(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	if _, err := m.ParseAccess(tok[:len(tok)-2] + "xx"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for bad signature, got %v", err)
	}
	if _, err := m.ParseAccess("not.a.jwt"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseAccessRequiresSubjectAndJTI(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	m, _ := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: key})

	claims := AccessClaims{RegisteredClaims: registered("", "j", time.Now(), time.Now().Add(time.Minute))}
	tok, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(key)
	if _, err := m.ParseAccess(tok); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected missing sub to be malformed, got %v", err)
	}

	claims = AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{Subject: "u", ID: "j", IssuedAt: gjwt.NewNumericDate(time.Now())}}
	tok, _ = gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(key)
	if _, err := m.ParseAccess(tok); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected missing exp to be malformed, got %v", err)
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AccessClaims{RegisteredClaims: registered("u", "j", time.Now(), time.Now().Add(time.Minute))}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseAccessIssuerAudienceAndLeeway(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "authcore",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, _, err := m.CreateAccess("u", "j1", 1, nil)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(access); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	sign := func(c AccessClaims) string {
		s, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		return s
	}

	wrongIssuer := AccessClaims{RegisteredClaims: registered("u", "j", time.Now(), time.Now().Add(time.Minute))}
	wrongIssuer.Issuer = "other"
	wrongIssuer.Audience = gjwt.ClaimStrings{"api"}
	if _, err := m.ParseAccess(sign(wrongIssuer)); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}

	wrongAudience := AccessClaims{RegisteredClaims: registered("u", "j", time.Now(), time.Now().Add(time.Minute))}
	wrongAudience.Issuer = "authcore"
	wrongAudience.Audience = gjwt.ClaimStrings{"other-api"}
	if _, err := m.ParseAccess(sign(wrongAudience)); err == nil {
		t.Fatal("expected wrong audience to fail")
	}

	within := AccessClaims{RegisteredClaims: registered("u", "j", time.Now().Add(-time.Minute), time.Now().Add(-15*time.Second))}
	within.Issuer = "authcore"
	within.Audience = gjwt.ClaimStrings{"api"}
	if _, err := m.ParseAccess(sign(within)); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	expired := AccessClaims{RegisteredClaims: registered("u", "j", time.Now().Add(-3*time.Minute), time.Now().Add(-2*time.Minute))}
	expired.Issuer = "authcore"
	expired.Audience = gjwt.ClaimStrings{"api"}
	if _, err := m.ParseAccess(sign(expired)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired token to fail with ErrExpired, got %v", err)
	}
}

func TestParseAccessUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys: map[string][]byte{
			"k1": pub1,
		},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AccessClaims{RegisteredClaims: registered("u", "j", time.Now(), time.Now().Add(time.Minute))}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	token, err := tok.SignedString(priv1)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	tok2 := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok2.Header["kid"] = "k1"
	good, _ := tok2.SignedString(priv1)
	if _, err := m.ParseAccess(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	m2, _ := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub2, VerifyKeys: map[string][]byte{"k2": pub2}})
	if _, err := m2.ParseAccess(good); err == nil {
		t.Fatal("expected parse failure with mismatched key set")
	}
}

func TestNewManagerValidatesConfig(t *testing.T) {
	cases := []Config{
		{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: []byte("k")},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256},
		{AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: []byte("k")},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("k"), Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Errorf("case %d: expected config error", i)
		}
	}
}
