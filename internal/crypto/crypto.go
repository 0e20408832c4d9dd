// Package crypto seals free-text health notes before they are stored.
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

// sealedPrefix marks values written by Seal so rows stored before a key was
// configured still read back as plaintext. Plaintext that itself starts with
// a prefix is escaped with plainPrefix.
const (
	sealedPrefix = "v1:"
	plainPrefix  = "p0:"
)

var ErrCiphertext = errors.New("malformed sealed value")

// Sealer encrypts with AES-256-GCM. The nonce is prepended to the
// ciphertext and the result is base64 encoded.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: gcm}, nil
}

// NewSealerFromBase64 decodes a standard base64 key, as kept in the
// environment.
func NewSealerFromBase64(encoded string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return NewSealer(key)
}

// Seal returns "" for "". A nil Sealer stores plaintext, escaped when it
// could be mistaken for a sealed value.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if s == nil {
		if strings.HasPrefix(plaintext, sealedPrefix) || strings.HasPrefix(plaintext, plainPrefix) {
			return plainPrefix + plaintext, nil
		}
		return plaintext, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without a prefix are returned as is.
func (s *Sealer) Open(value string) (string, error) {
	if rest, ok := strings.CutPrefix(value, plainPrefix); ok {
		return rest, nil
	}
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if s == nil {
		return "", errors.New("sealed value but no encryption key configured")
	}
	data, err := base64.StdEncoding.DecodeString(value[len(sealedPrefix):])
	if err != nil {
		return "", ErrCiphertext
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", ErrCiphertext
	}
	plaintext, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plaintext), nil
}
