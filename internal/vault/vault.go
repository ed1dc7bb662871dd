// Package vault seals and opens small JSON blobs with an authenticated
// cipher. The deduction markers go through it so the on-disk key-value
// rows are unreadable without the user's key.
package vault

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrKeyRequired is returned when an operation needs the encryption
// key and none was provided. A reconciliation run cannot proceed
// without it.
var ErrKeyRequired = errors.New("encryption key required")

// Sealer encrypts and decrypts JSON blobs with XChaCha20-Poly1305.
type Sealer struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewSealer builds a Sealer from a hex-encoded 32-byte key. An empty
// key yields ErrKeyRequired.
func NewSealer(hexKey string) (*Sealer, error) {
	if hexKey == "" {
		return nil, ErrKeyRequired
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal marshals v to JSON and encrypts it. The random nonce is
// prefixed to the ciphertext.
func (s *Sealer) Seal(v any) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

// Open decrypts a sealed blob and unmarshals it into v.
func (s *Sealer) Open(blob []byte, v any) error {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return errors.New("sealed blob too short")
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("open sealed blob: %w", err)
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// GenerateKey returns a fresh hex-encoded key suitable for NewSealer.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
