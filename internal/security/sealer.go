// Package security seals tenant credentials at rest.
//
// Sealed values have the form "v1:<base64(nonce || secretbox)>". The version
// prefix lets a future key rotation tell old ciphertexts apart.
package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealedPrefix = "v1:"
	keySize      = 32
	nonceSize    = 24
)

var (
	// ErrInvalidKey is returned when the configured key is not 32 bytes of base64.
	ErrInvalidKey = errors.New("security: sealing key must be 32 bytes, base64 encoded")
	// ErrUnsealFailed is returned for tampered, truncated or foreign ciphertexts.
	ErrUnsealFailed = errors.New("security: unable to open sealed value")
)

// Sealer encrypts and authenticates short secrets with NaCl secretbox.
type Sealer struct {
	key  [keySize]byte
	rand io.Reader
}

// NewSealer builds a Sealer from a base64-encoded 32-byte key.
func NewSealer(keyB64 string) (*Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidKey
	}
	s := &Sealer{rand: rand.Reader}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts plaintext. The empty string seals to the empty string so an
// unset credential stays unset.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(s.rand, nonce[:]); err != nil {
		return "", fmt.Errorf("security: nonce generation failed: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrUnsealFailed
	}
	box, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return "", ErrUnsealFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrUnsealFailed
	}
	return string(plain), nil
}
