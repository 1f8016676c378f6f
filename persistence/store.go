// Package persistence stores blocks and the mempool backup in LevelDB.
// 블록과 맴풀 백업을 영구 저장하고 복구하는 기능을 제공
package persistence

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/ahwlsqja/chaincore/types"
)

// 키 공간
var (
	blockPrefix    = []byte("block/")
	latestBlockKey = []byte("meta/latest_block")
	mempoolPrefix  = []byte("mempool/")
)

// DB wraps a LevelDB handle shared by the block store and the mempool backup.
type DB struct {
	db *leveldb.DB
}

// Open opens (or creates) the database under dataDir.
func Open(dataDir string) (*DB, error) {
	path := filepath.Join(dataDir, "chaincore.db")
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

// OpenMemory opens a database that lives in memory only.
func OpenMemory() (*DB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// ================================================================================
//                          Block Store
// ================================================================================

// BlockStore persists imported blocks by number.
type BlockStore struct {
	db *leveldb.DB
}

// NewBlockStore returns the block store backed by d.
func NewBlockStore(d *DB) *BlockStore {
	return &BlockStore{db: d.db}
}

func blockKey(number uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], number)
	return key
}

// SaveBlock stores a block and marks it as the latest one.
func (bs *BlockStore) SaveBlock(block *types.Block) error {
	if block == nil {
		return fmt.Errorf("block is nil")
	}

	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}

	var latest [8]byte
	binary.BigEndian.PutUint64(latest[:], block.Header.Number)

	batch := new(leveldb.Batch)
	batch.Put(blockKey(block.Header.Number), data)
	batch.Put(latestBlockKey, latest[:])
	if err := bs.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write block %d: %w", block.Header.Number, err)
	}
	return nil
}

// LoadBlock loads a block by number. It returns nil when the block is unknown.
func (bs *BlockStore) LoadBlock(number uint64) (*types.Block, error) {
	data, err := bs.db.Get(blockKey(number), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil // 블록이 없으면 nil 반환
		}
		return nil, fmt.Errorf("failed to read block %d: %w", number, err)
	}

	var block types.Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block %d: %w", number, err)
	}
	return &block, nil
}

// LoadBlocks loads the blocks in [from, to], skipping unknown numbers.
func (bs *BlockStore) LoadBlocks(from, to uint64) ([]*types.Block, error) {
	var blocks []*types.Block
	for n := from; n <= to; n++ {
		block, err := bs.LoadBlock(n)
		if err != nil {
			return nil, err
		}
		if block != nil {
			blocks = append(blocks, block)
		}
	}
	return blocks, nil
}

// LatestBlockNumber returns the number of the last saved block.
// The second result is false when no block was saved yet.
func (bs *BlockStore) LatestBlockNumber() (uint64, bool, error) {
	data, err := bs.db.Get(latestBlockKey, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read latest block number: %w", err)
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("corrupted latest block number: %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), true, nil
}
