package mempool

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/types"
)

// Origin tells where a pooled transaction came from.
type Origin uint8

const (
	// Local transactions were submitted through this node and always win replacement.
	Local Origin = iota + 1
	// External transactions arrived from peers.
	External
	// RetractedBlock transactions were re-imported from a block dropped by a reorg.
	RetractedBlock
)

// IsLocal reports whether the origin is Local.
func (o Origin) IsLocal() bool {
	return o == Local
}

func (o Origin) String() string {
	switch o {
	case Local:
		return "local"
	case External:
		return "external"
	case RetractedBlock:
		return "retracted"
	}
	return fmt.Sprintf("unknown(%d)", uint8(o))
}

// Timelock is the earliest block number and/or timestamp at which a transaction may be included.
type Timelock struct {
	Block     *uint64 `json:"block,omitempty"`
	Timestamp *uint64 `json:"timestamp,omitempty"`
}

// Input is one element of an Add batch.
type Input struct {
	Tx       *types.SignedTransaction
	Origin   Origin
	Timelock Timelock
}

// AccountDetails is the on-chain state of a signer.
type AccountDetails struct {
	Seq     uint64
	Balance uint64
}

// FetchAccount resolves the on-chain state of a signer.
type FetchAccount func(signer crypto.Public) AccountDetails

// FetchSeq resolves the on-chain sequence of a signer.
type FetchSeq func(signer crypto.Public) uint64

// InsertionResult is the bucket a successfully added transaction landed in.
type InsertionResult uint8

const (
	// Pending transactions are in the current bucket and can be included in the next block.
	Pending InsertionResult = iota + 1
	// Future transactions wait for a missing earlier sequence.
	Future
)

func (r InsertionResult) String() string {
	switch r {
	case Pending:
		return "pending"
	case Future:
		return "future"
	}
	return "unknown"
}

// Result is the outcome of one Add input.
type Result struct {
	Status InsertionResult
	Err    error
}

// Range is a half-open interval of insertion timestamps.
type Range struct {
	Start uint64
	End   uint64
}

// FullRange covers every insertion timestamp.
var FullRange = Range{Start: 0, End: math.MaxUint64}

// Contains reports whether v lies in [Start, End).
func (r Range) Contains(v uint64) bool {
	return r.Start <= v && v < r.End
}

// PendingTransactions is the result of TopTransactions.
type PendingTransactions struct {
	Transactions  []*types.SignedTransaction
	LastTimestamp *uint64
}

// Status counts the transactions in each bucket.
type Status struct {
	Pending     int
	Future      int
	MemoryUsage int // bytes
}

// PoolingTransaction is a verified transaction held by the pool.
type PoolingTransaction struct {
	Tx     *types.SignedTransaction
	Signer crypto.Public
	Seq    uint64
	Fee    uint64
	Size   int

	Origin   Origin
	Timelock Timelock

	InsertionID         uint64 // 풀 내 삽입 순서 (FIFO tie-break)
	InsertedBlockNumber uint64
	InsertedTimestamp   uint64

	current bool
}

func newPoolingTransaction(in Input, insertionID, blockNumber, timestamp uint64) *PoolingTransaction {
	return &PoolingTransaction{
		Tx:                  in.Tx,
		Signer:              in.Tx.SignerPublic(),
		Seq:                 in.Tx.Seq(),
		Fee:                 in.Tx.Fee(),
		Size:                in.Tx.Size(),
		Origin:              in.Origin,
		Timelock:            in.Timelock,
		InsertionID:         insertionID,
		InsertedBlockNumber: blockNumber,
		InsertedTimestamp:   timestamp,
	}
}

// Hash returns the transaction hash.
func (p *PoolingTransaction) Hash() types.TxHash {
	return p.Tx.Hash()
}

// IsCurrent reports whether the transaction is in the current bucket.
func (p *PoolingTransaction) IsCurrent() bool {
	return p.current
}

// includable reports whether the timelock is satisfied for a block built on top of bestBlock.
func (p *PoolingTransaction) includable(bestBlock uint64, maxTimestamp *uint64) bool {
	if p.Timelock.Block != nil && *p.Timelock.Block > bestBlock+1 {
		return false
	}
	if maxTimestamp != nil && p.Timelock.Timestamp != nil && *p.Timelock.Timestamp > *maxTimestamp {
		return false
	}
	return true
}

// lowerPriority orders by absolute fee, the later insertion losing ties.
// It is the eviction order of the current bucket.
func lowerPriority(a, b *PoolingTransaction) bool {
	if a.Fee != b.Fee {
		return a.Fee < b.Fee
	}
	return a.InsertionID > b.InsertionID
}

// betterForBlock orders by fee per byte, the earlier insertion winning ties.
func betterForBlock(a, b *PoolingTransaction) bool {
	// a.Fee/a.Size > b.Fee/b.Size  <=>  a.Fee*b.Size > b.Fee*a.Size
	ah, al := bits.Mul64(a.Fee, uint64(b.Size))
	bh, bl := bits.Mul64(b.Fee, uint64(a.Size))
	if ah != bh {
		return ah > bh
	}
	if al != bl {
		return al > bl
	}
	return a.InsertionID < b.InsertionID
}

// Fees are the minimum fees per action type accepted into the pool.
type Fees struct {
	MinPayCost           uint64 `mapstructure:"min_pay_transaction_cost"`
	MinSetRegularKeyCost uint64 `mapstructure:"min_set_regular_key_transaction_cost"`
	MinCreateShardCost   uint64 `mapstructure:"min_create_shard_transaction_cost"`
	MinStoreCost         uint64 `mapstructure:"min_store_transaction_cost"`
	MinRemoveCost        uint64 `mapstructure:"min_remove_transaction_cost"`
	MinCustomCost        uint64 `mapstructure:"min_custom_transaction_cost"`
	MinAssetMintCost     uint64 `mapstructure:"min_asset_mint_cost"`
	MinAssetTransferCost uint64 `mapstructure:"min_asset_transfer_cost"`
}

// MinFee returns the minimum fee for an action type.
func (f Fees) MinFee(t types.ActionType) uint64 {
	switch t {
	case types.ActionPay:
		return f.MinPayCost
	case types.ActionSetRegularKey:
		return f.MinSetRegularKeyCost
	case types.ActionCreateShard:
		return f.MinCreateShardCost
	case types.ActionStore:
		return f.MinStoreCost
	case types.ActionRemove:
		return f.MinRemoveCost
	case types.ActionCustom:
		return f.MinCustomCost
	case types.ActionMintAsset:
		return f.MinAssetMintCost
	case types.ActionTransferAsset:
		return f.MinAssetTransferCost
	}
	return 0
}
