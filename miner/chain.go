package miner

import (
	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/types"
)

// Chain is the blockchain client the miner reads state from and imports sealed blocks into.
type Chain interface {
	BestBlockHeader() *types.Header
	ChainInfo() types.ChainInfo
	BlockHeader(id types.BlockID) (*types.Header, bool)
	Block(id types.BlockID) (*types.Block, bool)
	CommonParams(id types.BlockID) (*types.CommonParams, bool)

	LatestSeq(address crypto.Address) uint64
	LatestBalance(address crypto.Address) uint64
	LatestRegularKey(address crypto.Address) (crypto.Public, bool)
	LatestRegularKeyOwner(address crypto.Address) (crypto.Address, bool)

	// 트랜잭션이 포함된 블록의 번호 / 타임스탬프
	TransactionBlockNumber(hash types.TxHash) (uint64, bool)
	TransactionBlockTimestamp(hash types.TxHash) (uint64, bool)

	PrepareOpenBlock(parent types.BlockID, author crypto.Address, extraData []byte) (OpenBlock, error)
	ImportSealedBlock(block *types.Block) error

	// SetMinTimer asks the reseal scheduler to run after the minimum reseal period.
	SetMinTimer()
}

// OpenBlock is a block being assembled on top of a parent.
type OpenBlock interface {
	Header() *types.Header
	// Seal applies a seal before any transaction is pushed.
	Seal(fields [][]byte) error
	PushTransaction(tx *types.SignedTransaction) error
	Close() (*ClosedBlock, error)
}

// ClosedBlock is an executed block waiting for its seal.
type ClosedBlock struct {
	block *types.Block
}

// NewClosedBlock wraps an executed block.
func NewClosedBlock(block *types.Block) *ClosedBlock {
	return &ClosedBlock{block: block}
}

// Block returns the unsealed block.
func (b *ClosedBlock) Block() *types.Block { return b.block }

// Header returns the block header.
func (b *ClosedBlock) Header() *types.Header { return &b.block.Header }

// Transactions returns the executed transactions.
func (b *ClosedBlock) Transactions() []*types.SignedTransaction { return b.block.Transactions }

// seal returns a copy of the block carrying fields, checked by the engine.
func (b *ClosedBlock) seal(engine Engine, fields [][]byte) (*types.Block, error) {
	header := b.block.Header
	header.Seal = fields
	if err := engine.VerifyLocalSeal(&header); err != nil {
		return nil, err
	}
	return &types.Block{Header: header, Transactions: b.block.Transactions}, nil
}

// EngineType describes how a consensus engine seals blocks.
type EngineType uint8

const (
	EngineSolo EngineType = iota
	EngineSimplePoA
	EngineBFT
)

func (t EngineType) String() string {
	switch t {
	case EngineSolo:
		return "solo"
	case EngineSimplePoA:
		return "simple_poa"
	case EngineBFT:
		return "bft"
	}
	return "unknown"
}

// IsSealFirst reports whether the seal is generated before transactions are executed.
func (t EngineType) IsSealFirst() bool { return t == EngineBFT }

// NeedSignerKey reports whether the author must be an unlocked local account.
func (t EngineType) NeedSignerKey() bool { return t != EngineSolo }

// IgnoreResealOnTransaction reports whether block production is driven by the engine only.
func (t EngineType) IgnoreResealOnTransaction() bool { return t == EngineBFT }

// Engine is the consensus engine.
type Engine interface {
	EngineType() EngineType
	SealsInternally() bool

	// GenerateSeal returns the seal fields for block on top of parent, or false when the
	// engine declines to seal. block is nil for a pre-seal.
	GenerateSeal(block *types.Block, parent *types.Header) ([][]byte, bool)
	VerifyLocalSeal(header *types.Header) error

	VerifyTransactionWithParams(tx *types.UnverifiedTransaction, params *types.CommonParams) error
	OnOpenBlock(block OpenBlock) error

	IsProposal(header *types.Header) bool
	ProposalGenerated(block *types.Block)

	SetSigner(accounts AccountProvider, address crypto.Address)
	Machine() Machine
}

// Machine performs the state-aware part of transaction verification.
type Machine interface {
	// VerifyTransactionSeal recovers the signer against the header the tx would land in.
	VerifyTransactionSeal(tx *types.UnverifiedTransaction, header *types.Header) (*types.SignedTransaction, error)
	VerifyTransaction(tx *types.SignedTransaction, header *types.Header, chain Chain, verifyTimelock bool) error
	GenesisCommonParams() *types.CommonParams
}

// AccountProvider holds the node's local keys.
type AccountProvider interface {
	HasPublic(public crypto.Public) (bool, error)
	Sign(address crypto.Address, passphrase *string, hash []byte) (crypto.Signature, error)
}
