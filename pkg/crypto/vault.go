package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrInvalidKey is returned when the key is not exactly 32 bytes.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")

	// ErrCorrupt is returned when sealed data cannot be parsed or authenticated.
	ErrCorrupt = errors.New("sealed data is corrupt")
)

const gcmTagSize = 16

// Vault seals and opens secrets with AES-256-GCM. The sealed form is
// base64(iv):base64(tag):base64(ciphertext) so stored values can be
// inspected segment by segment without exposing plaintext.
type Vault struct {
	gcm cipher.AEAD
}

// NewVault creates a vault from a 32-byte key. Keys of any other length
// are rejected rather than stretched; key material is an operator input
// and silent derivation hides misconfiguration.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{gcm: gcm}, nil
}

// Seal encrypts plaintext with a fresh random IV. Sealing the same value
// twice yields different ciphertexts.
func (v *Vault) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	iv := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := v.gcm.Seal(nil, iv, []byte(plaintext), nil)

	// Seal appends the auth tag to the ciphertext; split for storage.
	cut := len(sealed) - gcmTagSize
	ciphertext, tag := sealed[:cut], sealed[cut:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// Open decrypts a sealed value. Any malformed input, wrong segment count,
// bad base64, or failed authentication, reports ErrCorrupt without
// distinguishing the cause.
func (v *Vault) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		return "", ErrCorrupt
	}

	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(iv) != v.gcm.NonceSize() {
		return "", ErrCorrupt
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(tag) != gcmTagSize {
		return "", ErrCorrupt
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrCorrupt
	}

	plaintext, err := v.gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrCorrupt
	}

	return string(plaintext), nil
}

// IsSealed reports whether a stored value looks like vault output. Used
// when reading rows that may predate encryption at rest.
func IsSealed(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if _, err := base64.StdEncoding.DecodeString(p); err != nil {
			return false
		}
	}
	return true
}
