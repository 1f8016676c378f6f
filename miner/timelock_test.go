package miner

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/types"
)

// historyChain answers only the transaction location queries.
type historyChain struct {
	Chain
	numbers    map[types.TxHash]uint64
	timestamps map[types.TxHash]uint64
}

func (c *historyChain) TransactionBlockNumber(hash types.TxHash) (uint64, bool) {
	n, ok := c.numbers[hash]
	return n, ok
}

func (c *historyChain) TransactionBlockTimestamp(hash types.TxHash) (uint64, bool) {
	ts, ok := c.timestamps[hash]
	return ts, ok
}

func transferTx(t *testing.T, locks ...types.AssetInput) *types.SignedTransaction {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx, err := types.SignTransaction(types.Transaction{
		Fee:       10,
		NetworkID: "tc",
		Action:    types.Action{Type: types.ActionTransferAsset, Inputs: locks},
	}, kp)
	require.NoError(t, err)
	return tx
}

func lockedInput(tracker types.TxHash, lockType types.TimelockType, value uint64) types.AssetInput {
	return types.AssetInput{
		PrevOut:  types.AssetOutPoint{Tracker: tracker},
		Timelock: &types.Timelock{Type: lockType, Value: value},
	}
}

func TestCalculateTimelock(t *testing.T) {
	mined := types.TxHash{0x01}
	chain := &historyChain{
		numbers:    map[types.TxHash]uint64{mined: 10},
		timestamps: map[types.TxHash]uint64{mined: 1_000},
	}

	tx := transferTx(t,
		lockedInput(mined, types.TimelockBlock, 12),
		lockedInput(mined, types.TimelockBlockAge, 5),
		lockedInput(mined, types.TimelockTime, 900),
		lockedInput(mined, types.TimelockTimeAge, 50),
		types.AssetInput{PrevOut: types.AssetOutPoint{Tracker: mined}},
	)
	timelock, err := calculateTimelock(tx, chain)
	require.NoError(t, err)
	require.NotNil(t, timelock.Block)
	require.Equal(t, uint64(15), *timelock.Block)
	require.NotNil(t, timelock.Timestamp)
	require.Equal(t, uint64(1_050), *timelock.Timestamp)

	// 시간 기반 잠금만 있으면 블록 제한 없음
	timelock, err = calculateTimelock(transferTx(t, lockedInput(mined, types.TimelockTime, 7)), chain)
	require.NoError(t, err)
	require.Nil(t, timelock.Block)
	require.Equal(t, uint64(7), *timelock.Timestamp)

	// 합산이 넘치면 최댓값
	timelock, err = calculateTimelock(transferTx(t, lockedInput(mined, types.TimelockBlockAge, math.MaxUint64)), chain)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), *timelock.Block)
}

func TestCalculateTimelockUnknownOutput(t *testing.T) {
	chain := &historyChain{}
	_, err := calculateTimelock(transferTx(t, lockedInput(types.TxHash{0x02}, types.TimelockTimeAge, 1)), chain)
	require.ErrorIs(t, err, types.ErrTimelocked)

	var history *types.HistoryError
	require.ErrorAs(t, err, &history)
	require.Equal(t, uint64(math.MaxUint64), history.RemainingTime)
}

func TestCalculateTimelockIgnoresOtherActions(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	receiver := crypto.Address{0x01}
	tx, err := types.SignTransaction(types.Transaction{
		NetworkID: "tc",
		Action:    types.Action{Type: types.ActionPay, Receiver: &receiver, Quantity: 1},
	}, kp)
	require.NoError(t, err)

	timelock, err := calculateTimelock(tx, nil)
	require.NoError(t, err)
	require.Nil(t, timelock.Block)
	require.Nil(t, timelock.Timestamp)
}

func TestEngineTypeFlags(t *testing.T) {
	require.True(t, EngineBFT.IsSealFirst())
	require.True(t, EngineBFT.IgnoreResealOnTransaction())
	require.False(t, EngineSolo.NeedSignerKey())
	require.True(t, EngineSimplePoA.NeedSignerKey())
	require.False(t, EngineSimplePoA.IsSealFirst())
}
