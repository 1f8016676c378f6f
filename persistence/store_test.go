package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/mempool"
	"github.com/ahwlsqja/chaincore/types"
)

func newSignedTx(t *testing.T, seq uint64) *types.SignedTransaction {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	receiver := crypto.Address{0x02}
	tx, err := types.SignTransaction(types.Transaction{
		Seq:       seq,
		Fee:       10,
		NetworkID: "tc",
		Action:    types.Action{Type: types.ActionPay, Receiver: &receiver, Quantity: 5},
	}, kp)
	require.NoError(t, err)
	return tx
}

func TestBlockStore(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	store := NewBlockStore(db)

	// 블록 테스트
	t.Run("EmptyStore", func(t *testing.T) {
		_, ok, err := store.LatestBlockNumber()
		require.NoError(t, err)
		require.False(t, ok)

		block, err := store.LoadBlock(1)
		require.NoError(t, err)
		require.Nil(t, block)
	})

	t.Run("SaveAndLoadBlock", func(t *testing.T) {
		tx := newSignedTx(t, 0)
		block := &types.Block{
			Header: types.Header{
				Number:    1,
				Timestamp: 1000,
				Author:    crypto.Address{0x03},
			},
			Transactions: []*types.SignedTransaction{tx},
		}
		block.Header.TxRoot = types.ComputeTxRoot(block.Transactions)
		require.NoError(t, store.SaveBlock(block))

		loaded, err := store.LoadBlock(1)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		require.Equal(t, block.Hash(), loaded.Hash())
		require.Len(t, loaded.Transactions, 1)
		require.Equal(t, tx.Hash(), loaded.Transactions[0].Hash())
		require.Equal(t, tx.SignerPublic(), loaded.Transactions[0].SignerPublic())

		latest, ok, err := store.LatestBlockNumber()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(1), latest)
	})

	t.Run("LoadBlocksSkipsGaps", func(t *testing.T) {
		require.NoError(t, store.SaveBlock(&types.Block{Header: types.Header{Number: 3}}))

		blocks, err := store.LoadBlocks(1, 3)
		require.NoError(t, err)
		require.Len(t, blocks, 2)
		require.Equal(t, uint64(3), blocks[1].Header.Number)
	})

	t.Run("NilBlock", func(t *testing.T) {
		require.Error(t, store.SaveBlock(nil))
	})
}

func TestMempoolBackup(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	backup := NewMempoolBackup(db)

	// 블록 저장소와 키 공간이 겹치지 않아야 함
	require.NoError(t, NewBlockStore(db).SaveBlock(&types.Block{Header: types.Header{Number: 1}}))

	lock := uint64(7)
	tx1 := newSignedTx(t, 0)
	tx2 := newSignedTx(t, 3)
	records := []*mempool.BackupRecord{
		{Tx: tx1, Origin: mempool.Local, InsertedBlockNumber: 1, InsertedTimestamp: 100},
		{Tx: tx2, Origin: mempool.External, Timelock: mempool.Timelock{Block: &lock}, InsertedBlockNumber: 2, InsertedTimestamp: 200},
	}
	require.NoError(t, backup.Put(records))

	loaded, err := backup.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byHash := make(map[types.TxHash]*mempool.BackupRecord)
	for _, r := range loaded {
		byHash[r.Tx.Hash()] = r
	}
	require.Equal(t, mempool.Local, byHash[tx1.Hash()].Origin)
	require.Equal(t, uint64(100), byHash[tx1.Hash()].InsertedTimestamp)
	require.NotNil(t, byHash[tx2.Hash()].Timelock.Block)
	require.Equal(t, lock, *byHash[tx2.Hash()].Timelock.Block)
	require.Equal(t, tx2.SignerPublic(), byHash[tx2.Hash()].Tx.SignerPublic())

	require.NoError(t, backup.Delete([]types.TxHash{tx1.Hash(), {0xff}}))
	loaded, err = backup.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, tx2.Hash(), loaded[0].Tx.Hash())
}

func TestMempoolBackupRestoresPool(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	backup := NewMempoolBackup(db)
	pool := mempool.NewMemPool(nil)
	pool.SetBackup(backup)

	tx := newSignedTx(t, 0)
	fetch := func(crypto.Public) mempool.AccountDetails {
		return mempool.AccountDetails{Balance: 1000}
	}
	res := pool.Add([]mempool.Input{{Tx: tx, Origin: mempool.Local}}, 1, 100, fetch)
	require.NoError(t, res[0].Err)

	restarted := mempool.NewMemPool(nil)
	restarted.SetBackup(backup)
	require.NoError(t, restarted.RecoverFromBackup(fetch, 2, 200))
	require.True(t, restarted.Contains(tx.Hash()))

	isLocal, ok := restarted.IsLocalTransaction(tx.Hash())
	require.True(t, ok)
	require.True(t, isLocal)
}
