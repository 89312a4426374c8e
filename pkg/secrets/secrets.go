// Package secrets seals credentials kept in the environment with AES-256-GCM,
// so a .env file can hold the exchange secret without exposing it in clear.
package secrets

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

const (
	KeySize   = 32
	nonceSize = 12
	prefix    = "ENC[v1]:"
)

var (
	ErrInvalidKey    = errors.New("secrets: key must be 32 bytes (base64)")
	ErrInvalidSealed = errors.New("secrets: malformed sealed value")
	ErrOpenFailed    = errors.New("secrets: cannot open sealed value")
	ErrKeyRequired   = errors.New("secrets: sealed value but no key configured")
)

// Sealer encrypts and decrypts values under one key.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a base64-encoded 32-byte key.
func NewSealer(keyBase64 string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyBase64))
	if err != nil || len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// GenerateKey returns a fresh base64 key for NewSealer.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// IsSealed reports whether v looks like the output of Seal.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, prefix)
}

// Seal returns ENC[v1]:base64(nonce|ciphertext).
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrInvalidSealed
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, prefix))
	if err != nil || len(data) < nonceSize {
		return "", ErrInvalidSealed
	}
	plain, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

// Reveal returns v unchanged unless it is sealed, in which case it is opened
// with keyBase64.
func Reveal(v, keyBase64 string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	if keyBase64 == "" {
		return "", ErrKeyRequired
	}
	s, err := NewSealer(keyBase64)
	if err != nil {
		return "", err
	}
	return s.Open(v)
}
