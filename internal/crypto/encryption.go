// Package crypto seals cached payloads for at-rest storage outside the
// process. AES-GCM with keys derived from the configured passphrase.
package crypto

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

var (
	// ErrInvalidKey is returned when the key is not an AES key length.
	ErrInvalidKey = errors.New("invalid encryption key: must be 16, 24, or 32 bytes")

	// ErrInvalidCiphertext is returned when the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")

	// ErrDecryptionFailed is returned when authentication fails, which
	// includes decrypting with the wrong key.
	ErrDecryptionFailed = errors.New("decryption failed: authentication failed")
)

// hkdfInfo binds derived keys to this use so the same passphrase used
// elsewhere yields a different key.
const hkdfInfo = "asahi cache at-rest v1"

// Sealer encrypts and decrypts cache payloads. Safe for concurrent use;
// the key is fixed at construction.
type Sealer struct {
	gcm   cipher.AEAD
	keyID string
}

// NewSealer builds a sealer from a raw AES key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
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

	keyHash := sha256.Sum256(key)
	return &Sealer{
		gcm:   gcm,
		keyID: base64.RawURLEncoding.EncodeToString(keyHash[:8]),
	}, nil
}

// NewSealerFromPassphrase derives a 32-byte key from the configured
// passphrase with HKDF-SHA256 and builds a sealer from it. The same
// passphrase always yields the same key, so entries written by one
// process decrypt in another.
func NewSealerFromPassphrase(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return NewSealer(key)
}

// Seal encrypts plaintext and returns base64 ciphertext with the nonce
// prepended. Empty input round-trips to empty output.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts base64 ciphertext produced by Seal.
func (s *Sealer) Open(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(ciphertext) < nonceSize+s.gcm.Overhead()+1 {
		return "", ErrInvalidCiphertext
	}

	nonce := ciphertext[:nonceSize]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// KeyID identifies the key in use, for rotation bookkeeping.
func (s *Sealer) KeyID() string { return s.keyID }
