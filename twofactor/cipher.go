package twofactor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const cipherInfo = "authcore/twofactor/totp-secret/v1"

var (
	ErrKeyMaterial = errors.New("twofactor: encryption key material must be at least 32 bytes")
	errCiphertext  = errors.New("twofactor: ciphertext too short")
)

// SecretCipher seals TOTP secrets at rest with AES-256-GCM. The AES key is
// derived from the configured key material with HKDF-SHA256, so rotating the
// info string rotates every derived key.
type SecretCipher struct {
	aead cipher.AEAD
}

// NewSecretCipher derives an AES-256 key from keyMaterial.
func NewSecretCipher(keyMaterial []byte) (*SecretCipher, error) {
	if len(keyMaterial) < 32 {
		return nil, ErrKeyMaterial
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, keyMaterial, nil, []byte(cipherInfo)), key); err != nil {
		return nil, fmt.Errorf("twofactor: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SecretCipher{aead: aead}, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (c *SecretCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *SecretCipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
