package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sealInfo separates the session cipher key from any other key derived from the same secret.
var sealInfo = []byte("chaincore/session-nonce/v1")

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Encrypt seals plaintext with AES-256-GCM under a key derived from the shared secret.
// The random IV read from rng is prepended to the returned ciphertext.
func Encrypt(plaintext []byte, secret Secret, rng io.Reader) ([]byte, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rng, iv); err != nil {
		return nil, fmt.Errorf("failed to read iv: %w", err)
	}

	out := make([]byte, 0, len(iv)+len(plaintext)+aead.Overhead())
	out = append(out, iv...)
	return aead.Seal(out, iv, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func Decrypt(ciphertext []byte, secret Secret) ([]byte, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextTooShort, len(ciphertext))
	}

	iv, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ciphertext: %w", err)
	}
	return plaintext, nil
}

func newAEAD(secret Secret) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret[:], nil, sealInfo), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
