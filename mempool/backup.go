package mempool

import (
	"github.com/ahwlsqja/chaincore/types"
)

// BackupRecord is the persisted form of a pooled transaction.
type BackupRecord struct {
	Tx                  *types.SignedTransaction `json:"tx"`
	Origin              Origin                   `json:"origin"`
	Timelock            Timelock                 `json:"timelock"`
	InsertedBlockNumber uint64                   `json:"inserted_block_number"`
	InsertedTimestamp   uint64                   `json:"inserted_timestamp"`
}

// Backup persists the pool so that it survives a restart.
type Backup interface {
	Put(records []*BackupRecord) error
	Delete(hashes []types.TxHash) error
	LoadAll() ([]*BackupRecord, error)
}

func newBackupRecord(p *PoolingTransaction) *BackupRecord {
	return &BackupRecord{
		Tx:                  p.Tx,
		Origin:              p.Origin,
		Timelock:            p.Timelock,
		InsertedBlockNumber: p.InsertedBlockNumber,
		InsertedTimestamp:   p.InsertedTimestamp,
	}
}

// 백업 변경분은 연산 단위로 모아서 한 번에 기록
func (mp *MemPool) stagePut(p *PoolingTransaction) {
	if mp.backup == nil {
		return
	}
	hash := p.Hash()
	delete(mp.stagedDeletes, hash)
	mp.stagedPuts[hash] = p
}

func (mp *MemPool) stageDelete(p *PoolingTransaction) {
	if mp.backup == nil {
		return
	}
	hash := p.Hash()
	delete(mp.stagedPuts, hash)
	mp.stagedDeletes[hash] = struct{}{}
}

func (mp *MemPool) flushBackup() {
	if mp.backup == nil {
		return
	}

	if len(mp.stagedDeletes) > 0 {
		hashes := make([]types.TxHash, 0, len(mp.stagedDeletes))
		for hash := range mp.stagedDeletes {
			hashes = append(hashes, hash)
		}
		if err := mp.backup.Delete(hashes); err != nil {
			mp.logger.Error("Failed to delete transactions from backup", "count", len(hashes), "err", err)
		}
		clear(mp.stagedDeletes)
	}

	if len(mp.stagedPuts) > 0 {
		records := make([]*BackupRecord, 0, len(mp.stagedPuts))
		for _, p := range mp.stagedPuts {
			records = append(records, newBackupRecord(p))
		}
		if err := mp.backup.Put(records); err != nil {
			mp.logger.Error("Failed to write transactions to backup", "count", len(records), "err", err)
		}
		clear(mp.stagedPuts)
	}
}
