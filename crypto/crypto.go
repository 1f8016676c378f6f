// Package crypto provides the secp256k1 primitives used by the mempool, miner and routing table.
package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cometbft/cometbft/crypto/tmhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

const (
	PublicSize    = 33 // compressed secp256k1 point
	PrivateSize   = 32
	SecretSize    = 32
	SignatureSize = 65 // recovery code + R + S
	AddressSize   = tmhash.TruncatedSize
)

var (
	ErrInvalidPublic    = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Public is a compressed secp256k1 public key.
type Public [PublicSize]byte

// Secret is a 32-byte ECDH shared secret.
type Secret [SecretSize]byte

// Signature is a compact recoverable ECDSA signature.
type Signature [SignatureSize]byte

// Address identifies an account. It is the truncated hash of the owner's public key.
type Address [AddressSize]byte

// KeyPair represents a secp256k1 key pair.
type KeyPair struct {
	private *secp256k1.PrivateKey // 개인키
	public  Public                // 압축 공개키
}

// GenerateKeyPair generates a new key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	return GenerateKeyPairFrom(rand.Reader)
}

// GenerateKeyPairFrom generates a new key pair reading entropy from r.
func GenerateKeyPairFrom(r io.Reader) (*KeyPair, error) {
	privateKey, err := secp256k1.GeneratePrivateKeyFromRand(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return newKeyPair(privateKey), nil
}

// KeyPairFromBytes restores a key pair from a 32-byte private scalar.
func KeyPairFromBytes(data []byte) (*KeyPair, error) {
	if len(data) != PrivateSize {
		return nil, fmt.Errorf("invalid private key length: expected %d, got %d", PrivateSize, len(data))
	}
	return newKeyPair(secp256k1.PrivKeyFromBytes(data)), nil
}

func newKeyPair(privateKey *secp256k1.PrivateKey) *KeyPair {
	kp := &KeyPair{private: privateKey}
	copy(kp.public[:], privateKey.PubKey().SerializeCompressed())
	return kp
}

// Public returns the compressed public key.
func (kp *KeyPair) Public() Public {
	return kp.public
}

// Address returns the account address of the key pair.
func (kp *KeyPair) Address() Address {
	return PublicToAddress(kp.public)
}

// PrivateBytes returns the serialized private scalar.
func (kp *KeyPair) PrivateBytes() []byte {
	return kp.private.Serialize()
}

// Sign signs a 32-byte message hash.
func (kp *KeyPair) Sign(hash []byte) (Signature, error) {
	var sig Signature
	if len(hash) != tmhash.Size {
		return sig, fmt.Errorf("invalid hash length: expected %d, got %d", tmhash.Size, len(hash))
	}
	copy(sig[:], ecdsa.SignCompact(kp.private, hash, true))
	return sig, nil
}

// Exchange derives the ECDH shared secret between the local key pair and a remote public key.
func (kp *KeyPair) Exchange(remote Public) (Secret, error) {
	var secret Secret
	remoteKey, err := secp256k1.ParsePubKey(remote[:])
	if err != nil {
		return secret, fmt.Errorf("%w: %v", ErrInvalidPublic, err)
	}
	copy(secret[:], secp256k1.GenerateSharedSecret(kp.private, remoteKey))
	return secret, nil
}

// RecoverPublic recovers the signer's public key from a signature over hash.
func RecoverPublic(sig Signature, hash []byte) (Public, error) {
	var public Public
	key, compressed, err := ecdsa.RecoverCompact(sig[:], hash)
	if err != nil {
		return public, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !compressed {
		return public, fmt.Errorf("%w: uncompressed key", ErrInvalidSignature)
	}
	copy(public[:], key.SerializeCompressed())
	return public, nil
}

// Verify checks that sig over hash was produced by public.
func Verify(public Public, sig Signature, hash []byte) bool {
	recovered, err := RecoverPublic(sig, hash)
	if err != nil {
		return false
	}
	return recovered == public
}

// ParsePublic validates and copies a compressed public key.
func ParsePublic(data []byte) (Public, error) {
	var public Public
	if len(data) != PublicSize {
		return public, fmt.Errorf("%w: length %d", ErrInvalidPublic, len(data))
	}
	if _, err := secp256k1.ParsePubKey(data); err != nil {
		return public, fmt.Errorf("%w: %v", ErrInvalidPublic, err)
	}
	copy(public[:], data)
	return public, nil
}

// PublicToAddress derives the account address of a public key.
func PublicToAddress(public Public) Address {
	var addr Address
	copy(addr[:], tmhash.SumTruncated(public[:]))
	return addr
}

func (p Public) String() string {
	return hex.EncodeToString(p[:])
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Compare orders addresses bytewise.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// MarshalText encodes the address as hex.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a hex address.
func (a *Address) UnmarshalText(text []byte) error {
	return decodeFixedHex(text, a[:])
}

// MarshalText encodes the public key as hex.
func (p Public) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a hex public key.
func (p *Public) UnmarshalText(text []byte) error {
	return decodeFixedHex(text, p[:])
}

// MarshalText encodes the signature as hex.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s[:])), nil
}

// UnmarshalText decodes a hex signature.
func (s *Signature) UnmarshalText(text []byte) error {
	return decodeFixedHex(text, s[:])
}

func decodeFixedHex(text []byte, dst []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(decoded) != len(dst) {
		return fmt.Errorf("invalid length: expected %d, got %d", len(dst), len(decoded))
	}
	copy(dst, decoded)
	return nil
}

// ParseAddress decodes a hex-encoded address. A 0x prefix is accepted.
func ParseAddress(s string) (Address, error) {
	var addr Address
	err := addr.UnmarshalText([]byte(strings.TrimPrefix(s, "0x")))
	return addr, err
}

// Hash computes the SHA256 hash of data.
func Hash(data []byte) []byte {
	return tmhash.Sum(data)
}

// MerkleRoot computes the Merkle root of a list of hashes.
func MerkleRoot(hashes [][]byte) []byte {
	if len(hashes) == 0 {
		return nil
	}

	if len(hashes) == 1 {
		return hashes[0]
	}

	level := make([][]byte, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		// 홀수면 마지막 해시 복제
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		nextLevel := make([][]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			combined := make([]byte, 0, len(level[i])+len(level[i+1]))
			combined = append(combined, level[i]...)
			combined = append(combined, level[i+1]...)
			nextLevel[i/2] = Hash(combined)
		}
		level = nextLevel
	}

	return level[0]
}

// RandomBytes generates random bytes of the specified length.
func RandomBytes(length int) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return buf, nil
}

// Signer signs transaction hashes on behalf of one account.
type Signer interface {
	Sign(hash []byte) (Signature, error)
	Public() Public
	Address() Address
}

var _ Signer = (*KeyPair)(nil)
