// Package cryptox provides at-rest encryption for stored account credentials.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// ErrMalformedCiphertext is returned when a stored value is not in iv:ciphertext form.
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// scrypt parameters. The salt is fixed so that a given process secret always
// derives the same key across restarts.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	keyLen       = 32
	derivingSalt = "salt"
)

// Cipher encrypts and decrypts individual credential fields with AES-256-GCM.
// Each Encrypt call uses a fresh random nonce.
type Cipher struct {
	aead cipher.AEAD
}

// DeriveKey derives a 32-byte AES key from the process-wide secret.
func DeriveKey(secret string) ([]byte, error) {
	return scrypt.Key([]byte(secret), []byte(derivingSalt), scryptN, scryptR, scryptP, keyLen)
}

// New creates a Cipher keyed by the given process-wide secret.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("encryption secret is empty")
	}

	key, err := DeriveKey(secret)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt returns hex(nonce):hex(ciphertext) for the given plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or foreign-key values fail authentication.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(encoded, ":")
	if !ok || ivHex == "" || ctHex == "" {
		return "", ErrMalformedCiphertext
	}

	nonce, err := hex.DecodeString(ivHex)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", ErrMalformedCiphertext
	}

	sealed, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", ErrMalformedCiphertext
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
