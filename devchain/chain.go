// Package devchain is a single-node in-memory chain with a Solo engine, used for dev mode and tests.
package devchain

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	cmtsync "github.com/cometbft/cometbft/libs/sync"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/miner"
	"github.com/ahwlsqja/chaincore/persistence"
	"github.com/ahwlsqja/chaincore/types"
)

var (
	ErrUnknownBlock  = errors.New("unknown block")
	ErrNotBestParent = errors.New("parent is not the best block")
	ErrInvalidTxRoot = errors.New("transaction root mismatch")
)

// Genesis describes the first block and the initial balances.
type Genesis struct {
	Timestamp uint64
	Params    types.CommonParams
	Balances  map[crypto.Address]uint64
}

// DefaultGenesis returns a genesis with the given balances and dev network params.
func DefaultGenesis(balances map[crypto.Address]uint64) *Genesis {
	return &Genesis{
		Params: types.CommonParams{
			NetworkID:   "tc",
			MaxBodySize: 4 * 1024 * 1024,
		},
		Balances: balances,
	}
}

type txLocation struct {
	number    uint64
	timestamp uint64
}

// Chain is an in-memory blockchain. It implements miner.Chain.
type Chain struct {
	mu cmtsync.RWMutex

	params  types.CommonParams
	blocks  []*types.Block
	byHash  map[types.BlockHash]uint64
	txIndex map[types.TxHash]txLocation
	state   *state

	store *persistence.BlockStore

	now         func() time.Time
	onNewBlocks func(imported []types.BlockHash)
	onMinTimer  func()
	logger      log.Logger
}

var _ miner.Chain = (*Chain)(nil)

// NewChain creates a chain holding only the genesis block.
func NewChain(genesis *Genesis) *Chain {
	block := &types.Block{Header: types.Header{Number: 0, Timestamp: genesis.Timestamp}}
	c := &Chain{
		params:  genesis.Params,
		blocks:  []*types.Block{block},
		byHash:  map[types.BlockHash]uint64{block.Hash(): 0},
		txIndex: make(map[types.TxHash]txLocation),
		state:   newState(genesis.Balances),
		now:     time.Now,
		logger:  log.NewNopLogger(),
	}
	return c
}

// SetLogger sets the logger.
func (c *Chain) SetLogger(l log.Logger) {
	c.logger = l
}

// SetClock replaces the clock used for block timestamps.
func (c *Chain) SetClock(now func() time.Time) {
	c.now = now
}

// SetNewBlocksHandler registers f to be called after each imported block.
func (c *Chain) SetNewBlocksHandler(f func(imported []types.BlockHash)) {
	c.onNewBlocks = f
}

// SetMinTimerHandler registers f as the target of SetMinTimer.
func (c *Chain) SetMinTimerHandler(f func()) {
	c.onMinTimer = f
}

// Restore replays the blocks in store and persists every block imported afterwards.
func (c *Chain) Restore(store *persistence.BlockStore) error {
	latest, ok, err := store.LatestBlockNumber()
	if err != nil {
		return err
	}
	if ok && latest > 0 {
		blocks, err := store.LoadBlocks(1, latest)
		if err != nil {
			return err
		}
		c.mu.Lock()
		for _, block := range blocks {
			if err := c.importLocked(block); err != nil {
				c.mu.Unlock()
				return fmt.Errorf("failed to replay block %d: %w", block.Header.Number, err)
			}
		}
		c.mu.Unlock()
		c.logger.Info("Replayed stored blocks", "count", len(blocks), "best", latest)
	}
	c.store = store
	return nil
}

/*
================================================================================
                              조회 메서드
================================================================================
*/

func (c *Chain) resolve(id types.BlockID) (*types.Block, bool) {
	switch {
	case id.IsLatest():
		return c.blocks[len(c.blocks)-1], true
	case id.Number != nil:
		if *id.Number >= uint64(len(c.blocks)) {
			return nil, false
		}
		return c.blocks[*id.Number], true
	}
	number, ok := c.byHash[*id.Hash]
	if !ok {
		return nil, false
	}
	return c.blocks[number], true
}

// BestBlockHeader returns a copy of the best header.
func (c *Chain) BestBlockHeader() *types.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	header := c.blocks[len(c.blocks)-1].Header
	return &header
}

// ChainInfo summarises the best block.
func (c *Chain) ChainInfo() types.ChainInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	best := c.blocks[len(c.blocks)-1]
	return types.ChainInfo{
		BestBlockNumber:    best.Header.Number,
		BestBlockTimestamp: best.Header.Timestamp,
		BestBlockHash:      best.Hash(),
	}
}

// BlockHeader returns a copy of the selected header.
func (c *Chain) BlockHeader(id types.BlockID) (*types.Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	block, ok := c.resolve(id)
	if !ok {
		return nil, false
	}
	header := block.Header
	return &header, true
}

// Block returns the selected block.
func (c *Chain) Block(id types.BlockID) (*types.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolve(id)
}

// CommonParams returns the params in effect at a known block.
func (c *Chain) CommonParams(id types.BlockID) (*types.CommonParams, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.resolve(id); !ok {
		return nil, false
	}
	params := c.params
	return &params, true
}

// LatestSeq returns the seq of address at the best block.
func (c *Chain) LatestSeq(address crypto.Address) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.accounts[address].seq
}

// LatestBalance returns the balance of address at the best block.
func (c *Chain) LatestBalance(address crypto.Address) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.accounts[address].balance
}

// LatestRegularKey returns the regular key registered by address.
func (c *Chain) LatestRegularKey(address crypto.Address) (crypto.Public, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := c.state.accounts[address].regularKey
	if key == nil {
		return crypto.Public{}, false
	}
	return *key, true
}

// LatestRegularKeyOwner returns the owner of the regular key whose address is address.
func (c *Chain) LatestRegularKeyOwner(address crypto.Address) (crypto.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	owner, ok := c.state.regularKeyOwners[address]
	return owner, ok
}

// TransactionBlockNumber returns the number of the block including hash.
func (c *Chain) TransactionBlockNumber(hash types.TxHash) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loc, ok := c.txIndex[hash]
	return loc.number, ok
}

// TransactionBlockTimestamp returns the timestamp of the block including hash.
func (c *Chain) TransactionBlockTimestamp(hash types.TxHash) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loc, ok := c.txIndex[hash]
	return loc.timestamp, ok
}

// SetMinTimer forwards to the registered reseal scheduler.
func (c *Chain) SetMinTimer() {
	if c.onMinTimer != nil {
		c.onMinTimer()
	}
}

/*
================================================================================
                            블록 생성 / 임포트
================================================================================
*/

// PrepareOpenBlock opens a block on top of parent, which must be the best block.
func (c *Chain) PrepareOpenBlock(parent types.BlockID, author crypto.Address, extraData []byte) (miner.OpenBlock, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	parentBlock, ok := c.resolve(parent)
	if !ok {
		return nil, ErrUnknownBlock
	}
	best := c.blocks[len(c.blocks)-1]
	if parentBlock != best {
		return nil, ErrNotBestParent
	}

	header := parentBlock.Header.GenerateChild()
	header.Author = author
	header.ExtraData = append([]byte(nil), extraData...)
	// 타임스탬프는 부모보다 커야 함
	if now := uint64(c.now().Unix()); now > header.Timestamp {
		header.Timestamp = now
	} else {
		header.Timestamp++
	}

	return &openBlock{
		chain:  c,
		header: *header,
		state:  c.state.clone(),
		hashes: make(map[types.TxHash]struct{}),
	}, nil
}

// ImportSealedBlock re-executes block on the best state and makes it the new best block.
func (c *Chain) ImportSealedBlock(block *types.Block) error {
	c.mu.Lock()
	if err := c.importLocked(block); err != nil {
		c.mu.Unlock()
		return err
	}
	store := c.store
	c.mu.Unlock()

	if store != nil {
		if err := store.SaveBlock(block); err != nil {
			c.logger.Error("Failed to persist block", "number", block.Header.Number, "err", err)
		}
	}
	c.logger.Info("Imported block", "number", block.Header.Number, "txs", len(block.Transactions))

	if c.onNewBlocks != nil {
		c.onNewBlocks([]types.BlockHash{block.Hash()})
	}
	return nil
}

func (c *Chain) importLocked(block *types.Block) error {
	best := c.blocks[len(c.blocks)-1]
	if block.Header.ParentHash != best.Hash() || block.Header.Number != best.Header.Number+1 {
		return fmt.Errorf("%w: block %d", ErrNotBestParent, block.Header.Number)
	}
	if !bytes.Equal(block.Header.TxRoot, types.ComputeTxRoot(block.Transactions)) {
		return fmt.Errorf("%w: block %d", ErrInvalidTxRoot, block.Header.Number)
	}

	next := c.state.clone()
	inBlock := make(map[types.TxHash]struct{}, len(block.Transactions))
	known := func(hash types.TxHash) bool {
		_, onChain := c.txIndex[hash]
		_, earlier := inBlock[hash]
		return onChain || earlier
	}
	for _, tx := range block.Transactions {
		if known(tx.Hash()) {
			return types.ErrTransactionAlreadyImported
		}
		if err := next.execute(tx, known); err != nil {
			return fmt.Errorf("block %d, tx %s: %w", block.Header.Number, tx.Hash().Short(), err)
		}
		inBlock[tx.Hash()] = struct{}{}
	}

	c.state = next
	c.blocks = append(c.blocks, block)
	c.byHash[block.Hash()] = block.Header.Number
	for hash := range inBlock {
		c.txIndex[hash] = txLocation{number: block.Header.Number, timestamp: block.Header.Timestamp}
	}
	return nil
}

// openBlock executes transactions on a private copy of the best state.
type openBlock struct {
	chain  *Chain
	header types.Header
	state  *state
	txs    []*types.SignedTransaction
	hashes map[types.TxHash]struct{}
}

func (b *openBlock) Header() *types.Header { return &b.header }

func (b *openBlock) Seal(fields [][]byte) error {
	b.header.Seal = fields
	return nil
}

func (b *openBlock) PushTransaction(tx *types.SignedTransaction) error {
	hash := tx.Hash()
	if b.known(hash) {
		return types.ErrTransactionAlreadyImported
	}
	if err := b.state.execute(tx, b.known); err != nil {
		return err
	}
	b.txs = append(b.txs, tx)
	b.hashes[hash] = struct{}{}
	return nil
}

func (b *openBlock) known(hash types.TxHash) bool {
	if _, ok := b.hashes[hash]; ok {
		return true
	}
	_, ok := b.chain.TransactionBlockNumber(hash)
	return ok
}

func (b *openBlock) Close() (*miner.ClosedBlock, error) {
	b.header.TxRoot = types.ComputeTxRoot(b.txs)
	return miner.NewClosedBlock(&types.Block{Header: b.header, Transactions: b.txs}), nil
}
