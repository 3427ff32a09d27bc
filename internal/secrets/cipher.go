// Package secrets seals credential secret keys at rest.
//
// The sealing key is derived once from process-wide key material with HKDF-SHA256
// and kept inside a memguard enclave; it is only unsealed for the duration of a
// single Encrypt or Decrypt call.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	formatPrefix = "v1:"
	hkdfSalt     = "s3keeper/credential-vault"
	hkdfInfo     = "secret-key-at-rest"
)

var (
	ErrEmptyKeyMaterial = errors.New("secrets: encryption key material is empty")
	ErrMalformed        = errors.New("secrets: malformed ciphertext")
	ErrDecrypt          = errors.New("secrets: ciphertext authentication failed")
)

// Cipher encrypts and decrypts secret strings.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// XChaCha seals values with XChaCha20-Poly1305.
type XChaCha struct {
	key *memguard.Enclave
}

// NewCipher derives the sealing key from keyMaterial. The material itself is
// not retained.
func NewCipher(keyMaterial string) (*XChaCha, error) {
	if strings.TrimSpace(keyMaterial) == "" {
		return nil, ErrEmptyKeyMaterial
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(keyMaterial), []byte(hkdfSalt), []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	// NewEnclave wipes key.
	return &XChaCha{key: memguard.NewEnclave(key)}, nil
}

func (c *XChaCha) Encrypt(plaintext string) (string, error) {
	lb, err := c.key.Open()
	if err != nil {
		return "", fmt.Errorf("secrets: open key: %w", err)
	}
	defer lb.Destroy()

	aead, err := chacha20poly1305.NewX(lb.Bytes())
	if err != nil {
		return "", fmt.Errorf("secrets: init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return formatPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (c *XChaCha) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, formatPrefix) {
		return "", ErrMalformed
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(ciphertext, formatPrefix))
	if err != nil || len(raw) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", ErrMalformed
	}

	lb, err := c.key.Open()
	if err != nil {
		return "", fmt.Errorf("secrets: open key: %w", err)
	}
	defer lb.Destroy()

	aead, err := chacha20poly1305.NewX(lb.Bytes())
	if err != nil {
		return "", fmt.Errorf("secrets: init aead: %w", err)
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
