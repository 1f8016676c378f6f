package network

import (
	"errors"
	"fmt"
	"io"

	"github.com/ahwlsqja/chaincore/crypto"
)

/*
================================================================================
                         핸드셰이크 상태 전이
================================================================================

  candidate ──register──► registered
      │                       │
      │ TryEstablish          │ TryEstablish (ECDH 미리 계산)
      ▼                       ▼
  establishing1          establishing2
      │                       │
      └─── SetInitiatorEstablish (nonce 복호화) ───► established

  candidate / registered ── SetRecipientEstablish1/2 (nonce 생성) ──► established

  모든 상태 ── Ban ──► banned ── Unban ──► candidate

전이 함수는 (state, event) → (state, error) 순수 함수이고,
RoutingTable 이 락 안에서 결과를 기록한다. 실패하면 상태는 바뀌지 않는다.

================================================================================
*/

var (
	ErrInvalidState           = errors.New("invalid handshake state")
	ErrUnexpectedRemotePublic = errors.New("unexpected remote public key")
	ErrUnexpectedLocalPublic  = errors.New("unexpected local public key")
	ErrKeyExchange            = errors.New("cannot exchange key")
	ErrNonceEncryption        = errors.New("cannot encrypt nonce")
	ErrNonceDecryption        = errors.New("cannot decrypt nonce")
)

type secretOrigin uint8

const (
	// 핸드셰이크 중 상대가 보낸 공개키로 계산
	originShared secretOrigin = iota
	// RegisterRemotePublic 으로 미리 받은 공개키로 계산
	originPreimported
)

// state is one of candidate, registered, establishing1, establishing2, established or banned.
type state interface {
	name() string
}

type candidate struct {
	local *crypto.KeyPair
}

type registered struct {
	local  *crypto.KeyPair
	remote crypto.Public
	origin secretOrigin
}

type establishing1 struct {
	local *crypto.KeyPair
}

type establishing2 struct {
	local  *crypto.KeyPair
	remote crypto.Public
	secret crypto.Secret
	origin secretOrigin
}

type established struct {
	local  *crypto.KeyPair
	remote crypto.Public
	secret crypto.Secret
	origin secretOrigin
	nonce  Nonce
}

type banned struct{}

func (candidate) name() string     { return "candidate" }
func (registered) name() string    { return "registered" }
func (establishing1) name() string { return "establishing1" }
func (establishing2) name() string { return "establishing2" }
func (established) name() string   { return "established" }
func (banned) name() string        { return "banned" }

func localPublicOf(s state) (crypto.Public, bool) {
	switch s := s.(type) {
	case candidate:
		return s.local.Public(), true
	case registered:
		return s.local.Public(), true
	case establishing1:
		return s.local.Public(), true
	case establishing2:
		return s.local.Public(), true
	case established:
		return s.local.Public(), true
	case banned:
		return crypto.Public{}, false
	}
	panic(fmt.Sprintf("unknown handshake state %T", s))
}

func remotePublicOf(s state) (crypto.Public, bool) {
	switch s := s.(type) {
	case registered:
		return s.remote, true
	case establishing2:
		return s.remote, true
	case established:
		return s.remote, true
	case candidate, establishing1, banned:
		return crypto.Public{}, false
	}
	panic(fmt.Sprintf("unknown handshake state %T", s))
}

func sessionOf(s state) (Session, bool) {
	if e, ok := s.(established); ok {
		return NewSession(e.secret, e.nonce), true
	}
	return Session{}, false
}

func newCandidate(rng io.Reader) (state, error) {
	kp, err := crypto.GenerateKeyPairFrom(rng)
	if err != nil {
		return nil, err
	}
	return candidate{local: kp}, nil
}

func exchange(local *crypto.KeyPair, remote crypto.Public) (crypto.Secret, error) {
	secret, err := local.Exchange(remote)
	if err != nil {
		return secret, fmt.Errorf("%w: %v", ErrKeyExchange, err)
	}
	return secret, nil
}

func invalidState(action string, s state) error {
	return fmt.Errorf("%w: cannot %s, current state: %s", ErrInvalidState, action, s.name())
}

func registerRemote(s state, remote crypto.Public) (state, bool) {
	switch s := s.(type) {
	case candidate:
		return registered{local: s.local, remote: remote, origin: originPreimported}, true
	case registered:
		return registered{local: s.local, remote: remote, origin: originPreimported}, true
	}
	return s, false
}

func resetLocalKey(s state, rng io.Reader) (state, bool, error) {
	switch s := s.(type) {
	case candidate:
		next, err := newCandidate(rng)
		return next, err == nil, err
	case registered:
		kp, err := crypto.GenerateKeyPairFrom(rng)
		if err != nil {
			return s, false, err
		}
		return registered{local: kp, remote: s.remote, origin: s.origin}, true, nil
	}
	return s, false, nil
}

func tryEstablish(s state) (state, error) {
	switch s := s.(type) {
	case candidate:
		return establishing1{local: s.local}, nil
	case registered:
		secret, err := exchange(s.local, s.remote)
		if err != nil {
			return nil, err
		}
		return establishing2{local: s.local, remote: s.remote, secret: secret, origin: s.origin}, nil
	}
	return nil, invalidState("try establish", s)
}

// recipientEstablish1 handles an initiator's public key.
// A nil state with a nil error means the entry is already initiating and the call is deferred.
func recipientEstablish1(s state, received crypto.Public, nonce Nonce) (state, error) {
	switch s := s.(type) {
	case candidate:
		secret, err := exchange(s.local, received)
		if err != nil {
			return nil, err
		}
		return established{local: s.local, remote: received, secret: secret, origin: originShared, nonce: nonce}, nil
	case registered:
		if s.remote != received {
			return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedRemotePublic, s.remote, received)
		}
		secret, err := exchange(s.local, s.remote)
		if err != nil {
			return nil, err
		}
		return established{local: s.local, remote: s.remote, secret: secret, origin: s.origin, nonce: nonce}, nil
	case establishing1:
		return nil, nil
	case establishing2:
		if s.remote != received {
			return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedRemotePublic, s.remote, received)
		}
		return nil, nil
	}
	return nil, invalidState("establish as recipient", s)
}

// recipientEstablish2 is recipientEstablish1 for an initiator that also echoes our local public key.
func recipientEstablish2(s state, receivedLocal, receivedRemote crypto.Public, nonce Nonce) (state, error) {
	if local, ok := localPublicOf(s); ok && local != receivedLocal {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedLocalPublic, local, receivedLocal)
	}

	switch s := s.(type) {
	case candidate:
		secret, err := exchange(s.local, receivedRemote)
		if err != nil {
			return nil, err
		}
		return established{local: s.local, remote: receivedRemote, secret: secret, origin: originShared, nonce: nonce}, nil
	case registered:
		if s.remote != receivedRemote {
			return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedRemotePublic, s.remote, receivedRemote)
		}
		secret, err := exchange(s.local, s.remote)
		if err != nil {
			return nil, err
		}
		return established{local: s.local, remote: s.remote, secret: secret, origin: s.origin, nonce: nonce}, nil
	case establishing1:
		return nil, nil
	case establishing2:
		if s.remote != receivedRemote {
			return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedRemotePublic, s.remote, receivedRemote)
		}
		return nil, nil
	}
	return nil, invalidState("establish as recipient", s)
}

func initiatorEstablish(s state, remote crypto.Public, encryptedNonce []byte) (state, error) {
	switch s := s.(type) {
	case establishing1:
		secret, err := exchange(s.local, remote)
		if err != nil {
			return nil, err
		}
		nonce, err := decryptNonce(encryptedNonce, secret)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNonceDecryption, err)
		}
		return established{local: s.local, remote: remote, secret: secret, origin: originShared, nonce: nonce}, nil
	case establishing2:
		if s.remote != remote {
			return nil, fmt.Errorf("%w: ack with %s, expected %s", ErrUnexpectedRemotePublic, remote, s.remote)
		}
		nonce, err := decryptNonce(encryptedNonce, s.secret)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNonceDecryption, err)
		}
		return established{local: s.local, remote: remote, secret: s.secret, origin: s.origin, nonce: nonce}, nil
	}
	return nil, invalidState("establish as initiator", s)
}

func resetInitiator(s state) (state, error) {
	switch s := s.(type) {
	case establishing1:
		return candidate{local: s.local}, nil
	case establishing2:
		return registered{local: s.local, remote: s.remote, origin: s.origin}, nil
	}
	return nil, invalidState("reset initiator", s)
}
