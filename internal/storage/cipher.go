package storage

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher wraps bytes for at-rest storage. The storage layer defines
// the capability but not key-management UX — callers supply a
// key out-of-band.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// PlainCipher is the default no-op Cipher.
type PlainCipher struct{}

func (PlainCipher) Encrypt(b []byte) ([]byte, error) { return b, nil }
func (PlainCipher) Decrypt(b []byte) ([]byte, error) { return b, nil }

// ChaChaCipher encrypts with chacha20poly1305 using a caller-supplied
// 32-byte key. The nonce is generated fresh per call and prepended to
// the ciphertext.
type ChaChaCipher struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// NewChaChaCipher constructs a ChaChaCipher from a 32-byte key.
func NewChaChaCipher(key []byte) (*ChaChaCipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305: %w", err)
	}
	return &ChaChaCipher{aead: aead}, nil
}

func (c *ChaChaCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *ChaChaCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, body := ciphertext[:n], ciphertext[n:]
	return c.aead.Open(nil, nonce, body, nil)
}
