package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ahwlsqja/chaincore/mempool"
	"github.com/ahwlsqja/chaincore/types"
)

// MempoolBackup keeps one record per pooled transaction.
type MempoolBackup struct {
	db *leveldb.DB
}

var _ mempool.Backup = (*MempoolBackup)(nil)

// NewMempoolBackup returns the mempool backup backed by d.
func NewMempoolBackup(d *DB) *MempoolBackup {
	return &MempoolBackup{db: d.db}
}

func mempoolKey(hash types.TxHash) []byte {
	key := make([]byte, 0, len(mempoolPrefix)+len(hash))
	key = append(key, mempoolPrefix...)
	return append(key, hash[:]...)
}

// Put writes records atomically.
func (b *MempoolBackup) Put(records []*mempool.BackupRecord) error {
	batch := new(leveldb.Batch)
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal backup record %s: %w", r.Tx.Hash().Short(), err)
		}
		batch.Put(mempoolKey(r.Tx.Hash()), data)
	}
	return b.db.Write(batch, nil)
}

// Delete removes records atomically. Unknown hashes are ignored.
func (b *MempoolBackup) Delete(hashes []types.TxHash) error {
	batch := new(leveldb.Batch)
	for _, hash := range hashes {
		batch.Delete(mempoolKey(hash))
	}
	return b.db.Write(batch, nil)
}

// LoadAll reads every record.
func (b *MempoolBackup) LoadAll() ([]*mempool.BackupRecord, error) {
	iter := b.db.NewIterator(util.BytesPrefix(mempoolPrefix), nil)
	defer iter.Release()

	var records []*mempool.BackupRecord
	for iter.Next() {
		record := new(mempool.BackupRecord)
		if err := json.Unmarshal(iter.Value(), record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal backup record %x: %w", iter.Key()[len(mempoolPrefix):], err)
		}
		records = append(records, record)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate backup: %w", err)
	}
	return records, nil
}
