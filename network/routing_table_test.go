package network

import (
	"crypto/rand"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/chaincore/crypto"
)

var (
	addrA = MustParseSocketAddr("127.0.0.1:3485")
	addrB = MustParseSocketAddr("127.0.0.1:3486")
)

// handshake runs the initiator/recipient exchange between two tables.
func handshake(t *testing.T, initiator, recipient *RoutingTable) (Session, Session) {
	t.Helper()

	remote, err := initiator.TryEstablish(addrB)
	require.NoError(t, err)
	require.Nil(t, remote)
	require.True(t, initiator.IsEstablishing(addrB))

	initiatorPublic, ok, err := initiator.LocalPublic(addrB)
	require.NoError(t, err)
	require.True(t, ok)

	ack, err := recipient.SetRecipientEstablish1(addrA, initiatorPublic)
	require.NoError(t, err)
	require.NotNil(t, ack)

	session, err := initiator.SetInitiatorEstablish(addrB, ack.LocalPublic, ack.EncryptedNonce)
	require.NoError(t, err)
	return session, ack.Session
}

func TestHandshakeSymmetry(t *testing.T) {
	initiator := NewRoutingTable()
	recipient := NewRoutingTable()

	initiatorSession, recipientSession := handshake(t, initiator, recipient)
	require.Equal(t, recipientSession.Secret(), initiatorSession.Secret())
	require.Equal(t, recipientSession.Nonce(), initiatorSession.Nonce())

	require.True(t, initiator.IsEstablished(addrB))
	require.True(t, recipient.IsEstablished(addrA))
	require.Equal(t, []SocketAddr{addrB}, initiator.EstablishedAddresses())

	// 세션으로 봉인한 프레임은 상대가 열 수 있어야 함
	sealed, err := initiatorSession.Seal([]byte("ping"), rand.Reader)
	require.NoError(t, err)
	opened, err := recipientSession.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), opened)
}

func TestHandshakeWithRegisteredKeys(t *testing.T) {
	initiator := NewRoutingTable()
	recipient := NewRoutingTable()

	initiatorPublic, ok, err := initiator.Touch(addrB)
	require.NoError(t, err)
	require.True(t, ok)
	recipientPublic, ok, err := recipient.RegisterRemotePublic(addrA, initiatorPublic)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = initiator.RegisterRemotePublic(addrB, recipientPublic)
	require.NoError(t, err)
	require.True(t, ok)

	remote, err := initiator.TryEstablish(addrB)
	require.NoError(t, err)
	require.NotNil(t, remote)
	require.Equal(t, recipientPublic, *remote)

	ack, err := recipient.SetRecipientEstablish2(addrA, recipientPublic, initiatorPublic)
	require.NoError(t, err)
	require.NotNil(t, ack)
	require.Equal(t, recipientPublic, ack.LocalPublic)

	session, err := initiator.SetInitiatorEstablish(addrB, ack.LocalPublic, ack.EncryptedNonce)
	require.NoError(t, err)
	require.Equal(t, ack.Session.Secret(), session.Secret())
	require.Equal(t, ack.Session.Nonce(), session.Nonce())

	_, ok, err = initiator.RegisterRemotePublic(addrB, recipientPublic)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecipientDefersWhileInitiating(t *testing.T) {
	rt := NewRoutingTable()
	_, err := rt.TryEstablish(addrB)
	require.NoError(t, err)

	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	ack, err := rt.SetRecipientEstablish1(addrB, other.Public())
	require.NoError(t, err)
	require.Nil(t, ack)
	require.True(t, rt.IsEstablishing(addrB))
}

func TestMismatchedKeysLeaveStateUnchanged(t *testing.T) {
	rt := NewRoutingTable()
	expected, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	local, ok, err := rt.RegisterRemotePublic(addrA, expected.Public())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = rt.SetRecipientEstablish1(addrA, other.Public())
	require.ErrorIs(t, err, ErrUnexpectedRemotePublic)
	require.False(t, rt.IsEstablishingOrEstablished(addrA))

	_, err = rt.SetRecipientEstablish2(addrA, other.Public(), expected.Public())
	require.ErrorIs(t, err, ErrUnexpectedLocalPublic)
	require.False(t, rt.IsEstablishingOrEstablished(addrA))

	_, err = rt.SetInitiatorEstablish(addrA, expected.Public(), nil)
	require.ErrorIs(t, err, ErrInvalidState)

	after, ok, err := rt.LocalPublic(addrA)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, local, after)
}

func TestInitiatorRejectsTamperedNonce(t *testing.T) {
	initiator := NewRoutingTable()
	recipient := NewRoutingTable()

	_, err := initiator.TryEstablish(addrB)
	require.NoError(t, err)
	initiatorPublic, _, err := initiator.LocalPublic(addrB)
	require.NoError(t, err)
	ack, err := recipient.SetRecipientEstablish1(addrA, initiatorPublic)
	require.NoError(t, err)

	ack.EncryptedNonce[len(ack.EncryptedNonce)-1] ^= 0xff
	_, err = initiator.SetInitiatorEstablish(addrB, ack.LocalPublic, ack.EncryptedNonce)
	require.ErrorIs(t, err, ErrNonceDecryption)
	require.True(t, initiator.IsEstablishing(addrB))

	require.NoError(t, initiator.ResetInitiatorEstablish(addrB))
	require.False(t, initiator.IsEstablishing(addrB))
	require.Equal(t, []SocketAddr{addrB}, initiator.Candidates())
	require.ErrorIs(t, initiator.ResetInitiatorEstablish(addrB), ErrInvalidState)
}

func TestBanIsDurable(t *testing.T) {
	initiator := NewRoutingTable()
	recipient := NewRoutingTable()
	handshake(t, initiator, recipient)

	require.True(t, initiator.Ban(addrB))
	require.True(t, initiator.IsBanned(addrB))
	require.False(t, initiator.IsEstablished(addrB))

	// 차단된 항목은 어떤 전이로도 빠져나오지 못함
	_, err := initiator.TryEstablish(addrB)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = initiator.SetRecipientEstablish1(addrB, crypto.Public{})
	require.ErrorIs(t, err, ErrInvalidState)
	_, ok, err := initiator.RegisterRemotePublic(addrB, crypto.Public{})
	require.NoError(t, err)
	require.False(t, ok)
	reset, err := initiator.ResetLocalKey(addrB)
	require.NoError(t, err)
	require.False(t, reset)
	_, ok, err = initiator.Touch(addrB)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, initiator.Remove(addrB))
	require.True(t, initiator.IsBanned(addrB))

	unbanned, err := initiator.Unban(addrB)
	require.NoError(t, err)
	require.True(t, unbanned)
	require.Equal(t, []SocketAddr{addrB}, initiator.Candidates())

	require.False(t, initiator.Ban(addrA))
	require.True(t, initiator.Remove(addrB))
	require.Equal(t, []SocketAddr{addrA}, initiator.AllAddresses())
}

func TestResetLocalKey(t *testing.T) {
	rt := NewRoutingTable()
	before, _, err := rt.Touch(addrA)
	require.NoError(t, err)

	reset, err := rt.ResetLocalKey(addrA)
	require.NoError(t, err)
	require.True(t, reset)
	after, _, err := rt.Touch(addrA)
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	_, err = rt.TryEstablish(addrA)
	require.NoError(t, err)
	reset, err = rt.ResetLocalKey(addrA)
	require.NoError(t, err)
	require.False(t, reset)
}

func TestNonceEncryption(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	peer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	secret, err := kp.Exchange(peer.Public())
	require.NoError(t, err)

	var full Nonce
	for i := range full {
		full[i] = 0xff
	}
	nonces := map[string]Nonce{
		"Zero":      NonceFromUint64(0),
		"MaxUint64": NonceFromUint64(math.MaxUint64),
		"Max":       full,
	}
	for name, nonce := range nonces {
		t.Run(name, func(t *testing.T) {
			encrypted, err := encryptNonce(nonce, secret, rand.Reader)
			require.NoError(t, err)
			decrypted, err := decryptNonce(encrypted, secret)
			require.NoError(t, err)
			require.Equal(t, nonce, decrypted)
		})
	}

	t.Run("WrongLength", func(t *testing.T) {
		encrypted, err := crypto.Encrypt([]byte{1, 2, 3}, secret, rand.Reader)
		require.NoError(t, err)
		_, err = decryptNonce(encrypted, secret)
		require.ErrorIs(t, err, ErrInvalidNonceLength)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		encrypted, err := encryptNonce(NonceFromUint64(1), secret, rand.Reader)
		require.NoError(t, err)
		_, err = decryptNonce(encrypted, crypto.Secret{})
		require.Error(t, err)
	})
}

func TestIsReachable(t *testing.T) {
	loopback := MustParseSocketAddr("127.0.0.1:1")
	private := MustParseSocketAddr("192.168.0.1:1")
	global := MustParseSocketAddr("8.8.8.8:1")

	tests := []struct {
		from, to SocketAddr
		want     bool
	}{
		{loopback, loopback, true},
		{loopback, private, true},
		{loopback, global, true},
		{private, loopback, false},
		{private, private, true},
		{private, global, true},
		{global, loopback, false},
		{global, private, false},
		{global, global, true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.from.IsReachable(tt.to), "%s -> %s", tt.from, tt.to)
	}

	rt := NewRoutingTable()
	require.NoError(t, rt.TouchAddresses([]SocketAddr{loopback, private, global}))
	require.ElementsMatch(t, []SocketAddr{private, global}, rt.ReachableAddresses(private))
	require.Equal(t, []SocketAddr{global}, rt.ReachableAddresses(global))
}

func TestParseSocketAddr(t *testing.T) {
	addr, err := ParseSocketAddr("[::ffff:10.0.0.1]:80")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:80", addr.String())
	require.Equal(t, uint16(80), addr.Port())

	_, err = ParseSocketAddr("nope")
	require.Error(t, err)

	var decoded SocketAddr
	require.NoError(t, decoded.UnmarshalText([]byte("[::1]:30303")))
	require.True(t, decoded.IP().IsLoopback())
}
