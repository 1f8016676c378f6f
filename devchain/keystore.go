package devchain

import (
	"errors"

	cmtsync "github.com/cometbft/cometbft/libs/sync"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/miner"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrWrongPassphrase = errors.New("wrong passphrase")
)

type keyEntry struct {
	key        *crypto.KeyPair
	passphrase string
}

// KeyStore keeps local key pairs in memory.
type KeyStore struct {
	mu   cmtsync.RWMutex
	keys map[crypto.Address]keyEntry
}

var _ miner.AccountProvider = (*KeyStore)(nil)

// NewKeyStore creates an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[crypto.Address]keyEntry)}
}

// Insert adds kp. An empty passphrase leaves the key unlocked.
func (ks *KeyStore) Insert(kp *crypto.KeyPair, passphrase string) crypto.Address {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	address := kp.Address()
	ks.keys[address] = keyEntry{key: kp, passphrase: passphrase}
	return address
}

// HasPublic reports whether the key of public is stored.
func (ks *KeyStore) HasPublic(public crypto.Public) (bool, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	_, ok := ks.keys[crypto.PublicToAddress(public)]
	return ok, nil
}

// Sign signs hash with the key of address.
func (ks *KeyStore) Sign(address crypto.Address, passphrase *string, hash []byte) (crypto.Signature, error) {
	ks.mu.RLock()
	entry, ok := ks.keys[address]
	ks.mu.RUnlock()
	if !ok {
		return crypto.Signature{}, ErrAccountNotFound
	}
	if entry.passphrase != "" && (passphrase == nil || *passphrase != entry.passphrase) {
		return crypto.Signature{}, ErrWrongPassphrase
	}
	return entry.key.Sign(hash)
}
