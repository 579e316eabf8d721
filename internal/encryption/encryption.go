// Package encryption seals message bodies with XChaCha20-Poly1305.
//
// Each body gets its own random 24-byte nonce, stored next to the ciphertext.
// The key is process-wide and fixed at startup.
package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrDecrypt is returned when a body cannot be opened with the current key.
	ErrDecrypt = errors.New("message cannot be decrypted")
	// ErrKeySize is returned for keys that are not 32 bytes.
	ErrKeySize = fmt.Errorf("key must be %d bytes", chacha20poly1305.KeySize)
)

// NonceSize is the length of the nonce returned by Seal.
const NonceSize = chacha20poly1305.NonceSizeX

type Box struct {
	aead cipher.AEAD
}

func NewBox(key []byte) (*Box, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeySize
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (b *Box) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return b.SealWithNonce(plaintext, nonce)
}

// SealWithNonce encrypts plaintext under the given nonce.
func (b *Box) SealWithNonce(plaintext, nonce []byte) (ciphertext, usedNonce []byte, err error) {
	if len(nonce) != NonceSize {
		return nil, nil, fmt.Errorf("nonce must be %d bytes", NonceSize)
	}
	return b.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Open decrypts ciphertext with its own nonce. Any failure, including a
// malformed nonce, is reported as ErrDecrypt.
func (b *Box) Open(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrDecrypt, len(nonce))
	}
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
