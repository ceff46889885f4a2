package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrAuthentication is returned when decryption fails. A wrong password and a
// tampered ciphertext are deliberately indistinguishable to the caller.
var ErrAuthentication = errors.New("wrong password or wallet file corrupted")

// Seal encrypts plaintext with AES-256-GCM under key and returns the nonce it
// used together with the ciphertext. The nonce is generated internally on
// every call; callers cannot supply one, so nonce reuse under a key is ruled
// out by construction.
func Seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := newGCM(key, NonceLen)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts ciphertext with AES-256-GCM under key. Any tag mismatch
// returns ErrAuthentication and no plaintext. Nonces of 12 to 24 bytes are
// accepted so containers written by older versions keep decrypting.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) < NonceLen || len(nonce) > 24 {
		return nil, fmt.Errorf("invalid nonce length: %d", len(nonce))
	}
	aead, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("invalid key length: %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
