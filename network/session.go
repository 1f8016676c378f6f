package network

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/ahwlsqja/chaincore/crypto"
)

// NonceSize is the size of a session nonce in bytes.
const NonceSize = 16

var ErrInvalidNonceLength = errors.New("invalid nonce length")

// Nonce is a 128-bit big-endian session nonce.
type Nonce [NonceSize]byte

// NonceFromUint64 returns the nonce with value v.
func NonceFromUint64(v uint64) Nonce {
	var n Nonce
	binary.BigEndian.PutUint64(n[8:], v)
	return n
}

func (n Nonce) String() string {
	return hex.EncodeToString(n[:])
}

func randomNonce(rng io.Reader) (Nonce, error) {
	var n Nonce
	if _, err := io.ReadFull(rng, n[:]); err != nil {
		return n, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return n, nil
}

// Session is the symmetric material shared by two established peers.
type Session struct {
	secret crypto.Secret
	nonce  Nonce
}

// NewSession creates a session.
func NewSession(secret crypto.Secret, nonce Nonce) Session {
	return Session{secret: secret, nonce: nonce}
}

// Secret returns the ECDH shared secret.
func (s Session) Secret() crypto.Secret { return s.secret }

// Nonce returns the session nonce.
func (s Session) Nonce() Nonce { return s.nonce }

// Seal encrypts a frame for the peer.
func (s Session) Seal(plaintext []byte, rng io.Reader) ([]byte, error) {
	return crypto.Encrypt(plaintext, s.secret, rng)
}

// Open decrypts a frame sealed by the peer.
func (s Session) Open(ciphertext []byte) ([]byte, error) {
	return crypto.Decrypt(ciphertext, s.secret)
}

func encryptNonce(nonce Nonce, secret crypto.Secret, rng io.Reader) ([]byte, error) {
	return crypto.Encrypt(nonce[:], secret, rng)
}

func decryptNonce(encrypted []byte, secret crypto.Secret) (Nonce, error) {
	var nonce Nonce
	plain, err := crypto.Decrypt(encrypted, secret)
	if err != nil {
		return nonce, err
	}
	if len(plain) != NonceSize {
		return nonce, fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonceLength, NonceSize, len(plain))
	}
	copy(nonce[:], plain)
	return nonce, nil
}
