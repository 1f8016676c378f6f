package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cometbft/cometbft/crypto/tmhash"

	"github.com/ahwlsqja/chaincore/crypto"
)

// BlockHash identifies a block.
type BlockHash [tmhash.Size]byte

func (h BlockHash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText encodes the hash as hex.
func (h BlockHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex hash.
func (h *BlockHash) UnmarshalText(text []byte) error {
	return decodeHash(text, h[:])
}

// Header contains metadata about the block.
type Header struct {
	ParentHash BlockHash      `json:"parent_hash"`
	Number     uint64         `json:"number"`
	Timestamp  uint64         `json:"timestamp"` // unix seconds
	Author     crypto.Address `json:"author"`
	ExtraData  []byte         `json:"extra_data,omitempty"`
	TxRoot     []byte         `json:"tx_root,omitempty"`
	Seal       [][]byte       `json:"seal,omitempty"`
}

// Hash computes the hash of the header, seal included.
func (h *Header) Hash() BlockHash {
	data, err := json.Marshal(h)
	if err != nil {
		panic(fmt.Sprintf("header must be encodable: %v", err))
	}
	var hash BlockHash
	copy(hash[:], tmhash.Sum(data))
	return hash
}

// GenerateChild returns a header template for the next block.
func (h *Header) GenerateChild() *Header {
	return &Header{
		ParentHash: h.Hash(),
		Number:     h.Number + 1,
		Timestamp:  h.Timestamp,
	}
}

// Block is a header with its transactions.
type Block struct {
	Header       Header               `json:"header"`
	Transactions []*SignedTransaction `json:"transactions"`
}

// Hash returns the header hash.
func (b *Block) Hash() BlockHash {
	return b.Header.Hash()
}

// ComputeTxRoot returns the Merkle root of the transaction hashes.
func ComputeTxRoot(txs []*SignedTransaction) []byte {
	hashes := make([][]byte, len(txs))
	for i, tx := range txs {
		h := tx.Hash()
		hashes[i] = h[:]
	}
	return crypto.MerkleRoot(hashes)
}

// BlockID selects a block by hash, by number, or the latest one.
type BlockID struct {
	Hash   *BlockHash
	Number *uint64
}

// LatestBlock selects the best block.
var LatestBlock = BlockID{}

// BlockIDFromHash selects a block by hash.
func BlockIDFromHash(h BlockHash) BlockID { return BlockID{Hash: &h} }

// BlockIDFromNumber selects a block by number.
func BlockIDFromNumber(n uint64) BlockID { return BlockID{Number: &n} }

// IsLatest reports whether the id selects the best block.
func (id BlockID) IsLatest() bool { return id.Hash == nil && id.Number == nil }

// ChainInfo summarises the best block.
type ChainInfo struct {
	BestBlockNumber    uint64
	BestBlockTimestamp uint64
	BestBlockHash      BlockHash
}

// CommonParams are consensus parameters in effect at a block.
type CommonParams struct {
	NetworkID   string `json:"network_id"`
	MaxBodySize int    `json:"max_body_size"`
	MinFee      uint64 `json:"min_fee"`
}
