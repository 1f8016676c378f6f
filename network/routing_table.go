package network

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/cometbft/cometbft/libs/log"
	cmtsync "github.com/cometbft/cometbft/libs/sync"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/metrics"
)

// Handshake is what a recipient sends back to the initiator once established.
type Handshake struct {
	EncryptedNonce []byte
	LocalPublic    crypto.Public
	Session        Session
}

// RoutingTable keeps one handshake state per peer address.
// Every operation runs under a single lock; the RNG has its own lock, always taken second.
type RoutingTable struct {
	mu      cmtsync.Mutex
	entries map[SocketAddr]state

	rngMu cmtsync.Mutex
	rng   io.Reader

	logger  log.Logger
	metrics metrics.Recorder
}

// NewRoutingTable creates an empty routing table using crypto/rand.
func NewRoutingTable() *RoutingTable {
	return NewRoutingTableWithRand(rand.Reader)
}

// NewRoutingTableWithRand creates an empty routing table reading keys, nonces and IVs from rng.
func NewRoutingTableWithRand(rng io.Reader) *RoutingTable {
	return &RoutingTable{
		entries: make(map[SocketAddr]state),
		rng:     rng,
		logger:  log.NewNopLogger(),
		metrics: metrics.NullMetrics{},
	}
}

// SetLogger sets the logger.
func (rt *RoutingTable) SetLogger(l log.Logger) {
	rt.logger = l
}

// SetMetrics sets the metrics recorder.
func (rt *RoutingTable) SetMetrics(r metrics.Recorder) {
	rt.metrics = r
}

// lockedRand serializes reads from the shared RNG.
type lockedRand struct {
	rt *RoutingTable
}

func (l lockedRand) Read(p []byte) (int, error) {
	l.rt.rngMu.Lock()
	defer l.rt.rngMu.Unlock()
	return io.ReadFull(l.rt.rng, p)
}

func (rt *RoutingTable) rand() io.Reader {
	return lockedRand{rt: rt}
}

// entry returns the state of target, creating a candidate if absent. Must hold rt.mu.
func (rt *RoutingTable) entry(target SocketAddr) (state, error) {
	if s, ok := rt.entries[target]; ok {
		return s, nil
	}
	s, err := newCandidate(rt.rand())
	if err != nil {
		return nil, fmt.Errorf("cannot create ephemeral key for %s: %w", target, err)
	}
	rt.entries[target] = s
	return s, nil
}

/*
================================================================================
                            조회 메서드
================================================================================
*/

// IsBanned reports whether target is banned.
func (rt *RoutingTable) IsBanned(target SocketAddr) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.entries[target].(banned)
	return ok
}

// IsEstablished reports whether target has a session.
func (rt *RoutingTable) IsEstablished(target SocketAddr) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.entries[target].(established)
	return ok
}

// IsEstablishing reports whether a handshake with target is in progress.
func (rt *RoutingTable) IsEstablishing(target SocketAddr) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	switch rt.entries[target].(type) {
	case establishing1, establishing2:
		return true
	}
	return false
}

// IsEstablishingOrEstablished reports whether target is mid-handshake or established.
func (rt *RoutingTable) IsEstablishingOrEstablished(target SocketAddr) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	switch rt.entries[target].(type) {
	case establishing1, establishing2, established:
		return true
	}
	return false
}

// AllAddresses returns every known address.
func (rt *RoutingTable) AllAddresses() []SocketAddr {
	return rt.filter(func(SocketAddr, state) bool { return true })
}

// Candidates returns the addresses that can start a handshake.
func (rt *RoutingTable) Candidates() []SocketAddr {
	return rt.filter(func(_ SocketAddr, s state) bool {
		switch s.(type) {
		case candidate, registered:
			return true
		}
		return false
	})
}

// EstablishedAddresses returns the addresses with a session.
func (rt *RoutingTable) EstablishedAddresses() []SocketAddr {
	return rt.filter(func(_ SocketAddr, s state) bool {
		_, ok := s.(established)
		return ok
	})
}

// ReachableAddresses returns the known addresses that from can dial.
func (rt *RoutingTable) ReachableAddresses(from SocketAddr) []SocketAddr {
	return rt.filter(func(addr SocketAddr, _ state) bool {
		return from.IsReachable(addr)
	})
}

func (rt *RoutingTable) filter(keep func(SocketAddr, state) bool) []SocketAddr {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var out []SocketAddr
	for addr, s := range rt.entries {
		if keep(addr, s) {
			out = append(out, addr)
		}
	}
	return out
}

// Session returns the session with target if established.
func (rt *RoutingTable) Session(target SocketAddr) (Session, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, ok := rt.entries[target]
	if !ok {
		return Session{}, false
	}
	return sessionOf(s)
}

/*
================================================================================
                            등록 / 키 관리
================================================================================
*/

// Touch makes sure target is known and returns the local ephemeral public key used with it.
// The second result is false when target is banned.
func (rt *RoutingTable) Touch(target SocketAddr) (crypto.Public, bool, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, err := rt.entry(target)
	if err != nil {
		return crypto.Public{}, false, err
	}
	local, ok := localPublicOf(s)
	return local, ok, nil
}

// TouchAddresses makes sure every target is known.
func (rt *RoutingTable) TouchAddresses(targets []SocketAddr) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, target := range targets {
		if _, err := rt.entry(target); err != nil {
			return err
		}
	}
	return nil
}

// LocalPublic is Touch.
func (rt *RoutingTable) LocalPublic(target SocketAddr) (crypto.Public, bool, error) {
	return rt.Touch(target)
}

// RegisterRemotePublic records a remote public key learned before the handshake.
// It returns the local public key, or false when target is past the registration stage.
func (rt *RoutingTable) RegisterRemotePublic(target SocketAddr, remote crypto.Public) (crypto.Public, bool, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, err := rt.entry(target)
	if err != nil {
		return crypto.Public{}, false, err
	}
	next, ok := registerRemote(s, remote)
	if !ok {
		return crypto.Public{}, false, nil
	}
	rt.entries[target] = next
	local, _ := localPublicOf(next)
	return local, true, nil
}

// ResetLocalKey replaces the local ephemeral key of a candidate or registered entry.
func (rt *RoutingTable) ResetLocalKey(target SocketAddr) (bool, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, err := rt.entry(target)
	if err != nil {
		return false, err
	}
	next, ok, err := resetLocalKey(s, rt.rand())
	if err != nil || !ok {
		return false, err
	}
	rt.entries[target] = next
	return true, nil
}

/*
================================================================================
                            핸드셰이크
================================================================================

  Initiator (A)                                   Recipient (B)
       │                                               │
       │ TryEstablish(B) → establishing1               │
       │                                               │
       │ ─────────── A 의 local public ──────────────►  │
       │                                               │ SetRecipientEstablish1(A, pubA)
       │                                               │   ECDH + nonce 생성 → established
       │ ◄──── encrypted nonce + B 의 local public ──── │
       │                                               │
       │ SetInitiatorEstablish(B, pubB, encNonce)      │
       │   ECDH + nonce 복호화 → established            │
       │                                               │
       ▼  같은 Session(secret, nonce)                   ▼

================================================================================
*/

// TryEstablish starts a handshake as initiator.
// It returns the remote public key when one was registered beforehand.
func (rt *RoutingTable) TryEstablish(target SocketAddr) (*crypto.Public, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, err := rt.entry(target)
	if err != nil {
		return nil, err
	}
	next, err := tryEstablish(s)
	if err != nil {
		return nil, err
	}
	rt.entries[target] = next
	if remote, ok := remotePublicOf(next); ok {
		return &remote, nil
	}
	return nil, nil
}

// SetRecipientEstablish1 answers an initiator that sent its public key.
// A nil Handshake with a nil error means target is already initiating and will complete on its own.
func (rt *RoutingTable) SetRecipientEstablish1(target SocketAddr, receivedRemote crypto.Public) (*Handshake, error) {
	return rt.recipientEstablish(target, func(s state, nonce Nonce) (state, error) {
		return recipientEstablish1(s, receivedRemote, nonce)
	})
}

// SetRecipientEstablish2 answers an initiator that sent its public key along with ours.
func (rt *RoutingTable) SetRecipientEstablish2(target SocketAddr, receivedLocal, receivedRemote crypto.Public) (*Handshake, error) {
	return rt.recipientEstablish(target, func(s state, nonce Nonce) (state, error) {
		return recipientEstablish2(s, receivedLocal, receivedRemote, nonce)
	})
}

func (rt *RoutingTable) recipientEstablish(target SocketAddr, transition func(state, Nonce) (state, error)) (*Handshake, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, err := rt.entry(target)
	if err != nil {
		return nil, err
	}

	nonce, err := randomNonce(rt.rand())
	if err != nil {
		return nil, err
	}
	next, err := transition(s, nonce)
	if err != nil || next == nil {
		return nil, err
	}

	e := next.(established)
	encrypted, err := encryptNonce(e.nonce, e.secret, rt.rand())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonceEncryption, err)
	}

	rt.entries[target] = next
	rt.logger.Info("Session established", "peer", target, "role", "recipient")
	rt.metrics.IncHandshakes("recipient")
	rt.reportLocked()

	session, _ := sessionOf(next)
	return &Handshake{
		EncryptedNonce: encrypted,
		LocalPublic:    e.local.Public(),
		Session:        session,
	}, nil
}

// SetInitiatorEstablish completes a handshake as initiator with the recipient's answer.
func (rt *RoutingTable) SetInitiatorEstablish(target SocketAddr, remote crypto.Public, encryptedNonce []byte) (Session, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, err := rt.entry(target)
	if err != nil {
		return Session{}, err
	}
	next, err := initiatorEstablish(s, remote, encryptedNonce)
	if err != nil {
		return Session{}, err
	}

	rt.entries[target] = next
	rt.logger.Info("Session established", "peer", target, "role", "initiator")
	rt.metrics.IncHandshakes("initiator")
	rt.reportLocked()

	session, _ := sessionOf(next)
	return session, nil
}

// ResetInitiatorEstablish aborts an initiated handshake, keeping the local key.
func (rt *RoutingTable) ResetInitiatorEstablish(target SocketAddr) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, err := rt.entry(target)
	if err != nil {
		return err
	}
	next, err := resetInitiator(s)
	if err != nil {
		return err
	}
	rt.entries[target] = next
	return nil
}

/*
================================================================================
                            차단 / 제거
================================================================================
*/

// Ban marks target as banned. It returns true if target was established.
func (rt *RoutingTable) Ban(target SocketAddr) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	prev := rt.entries[target]
	rt.entries[target] = banned{}

	_, wasEstablished := prev.(established)
	rt.logger.Info("Banned peer", "peer", target, "was_established", wasEstablished)
	rt.reportLocked()
	return wasEstablished
}

// Unban turns a banned target back into a fresh candidate.
// It returns false when target was not banned.
func (rt *RoutingTable) Unban(target SocketAddr) (bool, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, err := rt.entry(target)
	if err != nil {
		return false, err
	}
	if _, ok := s.(banned); !ok {
		return false, nil
	}
	next, err := newCandidate(rt.rand())
	if err != nil {
		return false, err
	}
	rt.entries[target] = next
	rt.logger.Info("Unbanned peer", "peer", target)
	rt.reportLocked()
	return true, nil
}

// Remove forgets target. Banned entries are kept and false is returned.
func (rt *RoutingTable) Remove(target SocketAddr) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.entries[target].(banned); ok {
		return false
	}
	delete(rt.entries, target)
	rt.reportLocked()
	return true
}

func (rt *RoutingTable) reportLocked() {
	var establishedCount, bannedCount int
	for _, s := range rt.entries {
		switch s.(type) {
		case established:
			establishedCount++
		case banned:
			bannedCount++
		}
	}
	rt.metrics.SetRoutingTable(establishedCount, bannedCount)
}
