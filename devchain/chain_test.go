package devchain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/persistence"
	"github.com/ahwlsqja/chaincore/types"
)

func newKey(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func sign(t *testing.T, kp *crypto.KeyPair, seq, fee uint64, action types.Action) *types.SignedTransaction {
	t.Helper()
	tx, err := types.SignTransaction(types.Transaction{Seq: seq, Fee: fee, NetworkID: "tc", Action: action}, kp)
	require.NoError(t, err)
	return tx
}

func payTo(receiver crypto.Address, quantity uint64) types.Action {
	return types.Action{Type: types.ActionPay, Receiver: &receiver, Quantity: quantity}
}

// mine builds and imports one block holding txs.
func mine(t *testing.T, c *Chain, txs ...*types.SignedTransaction) *types.Block {
	t.Helper()
	open, err := c.PrepareOpenBlock(types.LatestBlock, crypto.Address{}, nil)
	require.NoError(t, err)
	for _, tx := range txs {
		require.NoError(t, open.PushTransaction(tx))
	}
	require.NoError(t, open.Seal([][]byte{}))
	closed, err := open.Close()
	require.NoError(t, err)
	block := closed.Block()
	require.NoError(t, c.ImportSealedBlock(block))
	return block
}

func TestExecute(t *testing.T) {
	alice, bob := newKey(t), newKey(t)
	s := newState(map[crypto.Address]uint64{alice.Address(): 100})
	known := func(types.TxHash) bool { return false }

	t.Run("Pay", func(t *testing.T) {
		require.NoError(t, s.execute(sign(t, alice, 0, 10, payTo(bob.Address(), 50)), known))
		require.Equal(t, uint64(40), s.accounts[alice.Address()].balance)
		require.Equal(t, uint64(1), s.accounts[alice.Address()].seq)
		require.Equal(t, uint64(50), s.accounts[bob.Address()].balance)
	})

	t.Run("WrongSeq", func(t *testing.T) {
		err := s.execute(sign(t, alice, 0, 10, payTo(bob.Address(), 1)), known)
		var runtime *types.RuntimeError
		require.ErrorAs(t, err, &runtime)
		require.Equal(t, types.RuntimeOther, runtime.Kind)
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		err := s.execute(sign(t, alice, 1, 10, payTo(bob.Address(), 31)), known)
		require.ErrorIs(t, err, &types.RuntimeError{Kind: types.RuntimeInsufficientBalance})
		// 실패하면 상태는 그대로
		require.Equal(t, uint64(40), s.accounts[alice.Address()].balance)
		require.Equal(t, uint64(1), s.accounts[alice.Address()].seq)
	})

	t.Run("RegularKey", func(t *testing.T) {
		key := newKey(t)
		public := key.Public()
		require.NoError(t, s.execute(sign(t, alice, 1, 10, types.Action{Type: types.ActionSetRegularKey, Key: &public}), known))
		require.Equal(t, alice.Address(), s.payer(public))

		// 정규키로 서명하면 소유자 계정에서 지불
		require.NoError(t, s.execute(sign(t, key, 2, 10, payTo(bob.Address(), 1)), known))
		require.Equal(t, uint64(19), s.accounts[alice.Address()].balance)
		require.Equal(t, uint64(3), s.accounts[alice.Address()].seq)
	})

	t.Run("FailingScript", func(t *testing.T) {
		err := s.execute(sign(t, bob, 0, 1, types.Action{Type: types.ActionCustom, Bytes: []byte{OpFail, 0x01}}), known)
		require.ErrorIs(t, err, types.ErrInvalidScript)
		require.NoError(t, s.execute(sign(t, bob, 0, 1, types.Action{Type: types.ActionCustom, Bytes: []byte{0x01}}), known))
	})

	t.Run("MintOverflow", func(t *testing.T) {
		require.NoError(t, s.execute(sign(t, bob, 1, 1, types.Action{Type: types.ActionMintAsset, ShardID: 3, Quantity: math.MaxUint64}), known))
		err := s.execute(sign(t, bob, 2, 1, types.Action{Type: types.ActionMintAsset, ShardID: 3, Quantity: 1}), known)
		require.ErrorIs(t, err, types.ErrAssetSupplyOverflow)
	})

	t.Run("TransferUnknownAsset", func(t *testing.T) {
		action := types.Action{Type: types.ActionTransferAsset, Inputs: []types.AssetInput{{PrevOut: types.AssetOutPoint{Tracker: types.TxHash{0x09}}}}}
		require.Error(t, s.execute(sign(t, bob, 2, 1, action), known))
		require.NoError(t, s.execute(sign(t, bob, 2, 1, action), func(types.TxHash) bool { return true }))
	})
}

func TestChainImport(t *testing.T) {
	alice, bob := newKey(t), newKey(t)
	c := NewChain(DefaultGenesis(map[crypto.Address]uint64{alice.Address(): 1_000}))
	c.SetClock(func() time.Time { return time.Unix(500, 0) })

	var notified []types.BlockHash
	c.SetNewBlocksHandler(func(imported []types.BlockHash) {
		notified = append(notified, imported...)
	})

	tx := sign(t, alice, 0, 10, payTo(bob.Address(), 100))
	block := mine(t, c, tx)

	info := c.ChainInfo()
	require.Equal(t, uint64(1), info.BestBlockNumber)
	require.Equal(t, uint64(500), info.BestBlockTimestamp)
	require.Equal(t, block.Hash(), info.BestBlockHash)
	require.Equal(t, []types.BlockHash{block.Hash()}, notified)

	require.Equal(t, uint64(1), c.LatestSeq(alice.Address()))
	require.Equal(t, uint64(890), c.LatestBalance(alice.Address()))
	require.Equal(t, uint64(100), c.LatestBalance(bob.Address()))

	number, ok := c.TransactionBlockNumber(tx.Hash())
	require.True(t, ok)
	require.Equal(t, uint64(1), number)
	ts, ok := c.TransactionBlockTimestamp(tx.Hash())
	require.True(t, ok)
	require.Equal(t, uint64(500), ts)

	header, ok := c.BlockHeader(types.BlockIDFromHash(block.Hash()))
	require.True(t, ok)
	require.Equal(t, uint64(1), header.Number)
	_, ok = c.BlockHeader(types.BlockIDFromNumber(2))
	require.False(t, ok)

	// 시계가 멈춰도 타임스탬프는 증가
	mine(t, c)
	require.Equal(t, uint64(501), c.ChainInfo().BestBlockTimestamp)

	t.Run("TransactionAlreadyOnChain", func(t *testing.T) {
		open, err := c.PrepareOpenBlock(types.LatestBlock, crypto.Address{}, nil)
		require.NoError(t, err)
		require.ErrorIs(t, open.PushTransaction(tx), types.ErrTransactionAlreadyImported)
	})

	t.Run("StaleParent", func(t *testing.T) {
		_, err := c.PrepareOpenBlock(types.BlockIDFromNumber(0), crypto.Address{}, nil)
		require.ErrorIs(t, err, ErrNotBestParent)
		_, err = c.PrepareOpenBlock(types.BlockIDFromNumber(9), crypto.Address{}, nil)
		require.ErrorIs(t, err, ErrUnknownBlock)
	})

	t.Run("TamperedTxRoot", func(t *testing.T) {
		open, err := c.PrepareOpenBlock(types.LatestBlock, crypto.Address{}, nil)
		require.NoError(t, err)
		require.NoError(t, open.PushTransaction(sign(t, alice, 1, 10, payTo(bob.Address(), 1))))
		closed, err := open.Close()
		require.NoError(t, err)
		block := closed.Block()
		block.Header.TxRoot = []byte{0x00}
		require.ErrorIs(t, c.ImportSealedBlock(block), ErrInvalidTxRoot)
	})
}

func TestChainRestore(t *testing.T) {
	alice, bob := newKey(t), newKey(t)
	genesis := DefaultGenesis(map[crypto.Address]uint64{alice.Address(): 1_000})

	db, err := persistence.OpenMemory()
	require.NoError(t, err)
	defer db.Close()
	store := persistence.NewBlockStore(db)

	c := NewChain(genesis)
	require.NoError(t, c.Restore(store))
	tx := sign(t, alice, 0, 10, payTo(bob.Address(), 100))
	mine(t, c, tx)
	mine(t, c, sign(t, alice, 1, 10, payTo(bob.Address(), 100)))

	restored := NewChain(genesis)
	require.NoError(t, restored.Restore(store))
	require.Equal(t, c.ChainInfo(), restored.ChainInfo())
	require.Equal(t, uint64(2), restored.LatestSeq(alice.Address()))
	require.Equal(t, uint64(200), restored.LatestBalance(bob.Address()))
	_, ok := restored.TransactionBlockNumber(tx.Hash())
	require.True(t, ok)
}

func TestSolo(t *testing.T) {
	alice := newKey(t)
	params := types.CommonParams{NetworkID: "tc", MinFee: 5}
	solo := NewSolo(params)

	require.NoError(t, solo.VerifyTransactionWithParams(sign(t, alice, 0, 5, payTo(crypto.Address{}, 1)).UnverifiedTransaction, &params))

	err := solo.VerifyTransactionWithParams(sign(t, alice, 0, 4, payTo(crypto.Address{}, 1)).UnverifiedTransaction, &params)
	require.True(t, types.IsSyntaxError(err))

	other, err := types.SignTransaction(types.Transaction{NetworkID: "xx", Fee: 5, Action: payTo(crypto.Address{}, 1)}, alice)
	require.NoError(t, err)
	require.True(t, types.IsSyntaxError(solo.VerifyTransactionWithParams(other.UnverifiedTransaction, &params)))

	require.NoError(t, solo.VerifyLocalSeal(&types.Header{}))
	require.ErrorIs(t, solo.VerifyLocalSeal(&types.Header{Seal: [][]byte{{0x01}}}), ErrUnexpectedSeal)
}

func TestMachineTimelock(t *testing.T) {
	alice := newKey(t)
	c := NewChain(DefaultGenesis(map[crypto.Address]uint64{alice.Address(): 1_000}))
	c.SetClock(func() time.Time { return time.Unix(100, 0) })
	mined := sign(t, alice, 0, 10, payTo(crypto.Address{0x01}, 1))
	mine(t, c, mined)

	machine := NewSolo(c.params).Machine()
	transfer := func(lock types.Timelock) *types.SignedTransaction {
		return sign(t, alice, 1, 10, types.Action{
			Type:   types.ActionTransferAsset,
			Inputs: []types.AssetInput{{PrevOut: types.AssetOutPoint{Tracker: mined.Hash()}, Timelock: &lock}},
		})
	}
	header := &types.Header{Number: 2, Timestamp: 110}

	tests := []struct {
		name string
		lock types.Timelock
		ok   bool
	}{
		{"BlockReached", types.Timelock{Type: types.TimelockBlock, Value: 2}, true},
		{"BlockAhead", types.Timelock{Type: types.TimelockBlock, Value: 3}, false},
		{"BlockAgeReached", types.Timelock{Type: types.TimelockBlockAge, Value: 1}, true},
		{"BlockAgeAhead", types.Timelock{Type: types.TimelockBlockAge, Value: 2}, false},
		{"TimeReached", types.Timelock{Type: types.TimelockTime, Value: 110}, true},
		{"TimeAgeAhead", types.Timelock{Type: types.TimelockTimeAge, Value: 11}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := machine.VerifyTransaction(transfer(tt.lock), header, c, true)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, types.ErrTimelocked)
			// 타임락 검사를 끄면 통과
			require.NoError(t, machine.VerifyTransaction(transfer(tt.lock), header, c, false))
		})
	}
}

func TestKeyStore(t *testing.T) {
	ks := NewKeyStore()
	locked, open := newKey(t), newKey(t)
	lockedAddr := ks.Insert(locked, "pass")
	openAddr := ks.Insert(open, "")

	has, err := ks.HasPublic(locked.Public())
	require.NoError(t, err)
	require.True(t, has)
	has, err = ks.HasPublic(newKey(t).Public())
	require.NoError(t, err)
	require.False(t, has)

	hash := make([]byte, 32)
	_, err = ks.Sign(lockedAddr, nil, hash)
	require.ErrorIs(t, err, ErrWrongPassphrase)
	pass := "pass"
	sig, err := ks.Sign(lockedAddr, &pass, hash)
	require.NoError(t, err)
	public, err := crypto.RecoverPublic(sig, hash)
	require.NoError(t, err)
	require.Equal(t, locked.Public(), public)

	_, err = ks.Sign(openAddr, nil, hash)
	require.NoError(t, err)
	_, err = ks.Sign(crypto.Address{0x01}, nil, hash)
	require.ErrorIs(t, err, ErrAccountNotFound)
}
