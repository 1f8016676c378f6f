// Package mempool holds verified transactions waiting to be included in a block.
package mempool

import (
	"bytes"
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/metrics"
	"github.com/ahwlsqja/chaincore/types"
)

/*
================================================================================
                           MEMPOOL 아키텍처
================================================================================

서명자(signer)마다 seq 순서 큐를 두고, 계정 seq 부터 끊김 없이 이어지는 구간만
current 로 본다. 나머지는 future (앞선 seq 가 빠져 있음).

┌─────────────────────────────────────────────────────────────────────────────┐
│  byHash    [txHash] -> *PoolingTransaction                                   │
│                                                                              │
│  bySigner  [signer] -> btree(seq)                                            │
│     signer_A (account seq 5):  [5][6][7]   [9][10]                           │
│                                 └current┘   └future┘                         │
│     signer_B (account seq 0):  [0]                                           │
│                                                                              │
│  current   btree(fee asc, insertion id desc)                                 │
│     Min() = 용량 초과 시 가장 먼저 퇴출되는 트랜잭션                            │
│                                                                              │
│  TopTransactions() → signer 체인들을 fee-per-byte 로 병합 (seq 순서 유지)      │
└─────────────────────────────────────────────────────────────────────────────┘

MemPool 자체는 락을 잡지 않는다. 동시 접근은 호출자(Miner)가 직렬화한다.

================================================================================
*/

var (
	// 에러 정의
	ErrAlreadyImported     = errors.New("transaction already imported")
	ErrInsufficientFee     = errors.New("insufficient fee")
	ErrOld                 = errors.New("transaction seq is behind the account seq")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTooCheapToReplace   = errors.New("transaction too cheap to replace")
	ErrLimitReached        = errors.New("mempool limit reached")
)

// Config bounds the pool.
type Config struct {
	// 크기 제한
	Limit       int // 최대 트랜잭션 수
	MemoryLimit int // 최대 바이트, 0 이면 무제한

	// 같은 (signer, seq) 교체 시 요구되는 수수료 인상: new > old + old>>FeeBumpShift
	FeeBumpShift uint

	// 액션별 최소 수수료
	Fees Fees

	// future 트랜잭션은 두 기간이 모두 지나면 제거
	FutureQueuePeriodBlocks uint64
	FutureQueuePeriod       uint64 // seconds

	// 최근 로컬 트랜잭션 해시 (retracted 재임포트 시 Local 복원)
	LocalsHistorySize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() *Config {
	return &Config{
		Limit:                   8192,
		MemoryLimit:             2 * 1024 * 1024, // 2MiB
		FeeBumpShift:            3,
		FutureQueuePeriodBlocks: 100,
		FutureQueuePeriod:       60 * 60, // 1h
		LocalsHistorySize:       1024,
	}
}

// MemPool stores pooled transactions split into current and future buckets.
// It is not safe for concurrent use.
type MemPool struct {
	config *Config

	byHash   map[types.TxHash]*PoolingTransaction
	bySigner map[crypto.Public]*btree.BTreeG[*PoolingTransaction]
	current  *btree.BTreeG[*PoolingTransaction]

	// 마지막으로 조회한 계정 seq
	accountSeqs map[crypto.Public]uint64

	futureCount     int
	memUsage        int
	nextInsertionID uint64

	lastBlockNumber uint64
	lastTimestamp   uint64

	localsHistory *lru.Cache[types.TxHash, struct{}]

	backup        Backup
	stagedPuts    map[types.TxHash]*PoolingTransaction
	stagedDeletes map[types.TxHash]struct{}

	logger  log.Logger
	metrics metrics.Recorder
}

// NewMemPool creates an empty pool.
func NewMemPool(config *Config) *MemPool {
	if config == nil {
		config = DefaultConfig()
	}

	historySize := config.LocalsHistorySize
	if historySize <= 0 {
		historySize = DefaultConfig().LocalsHistorySize
	}
	history, err := lru.New[types.TxHash, struct{}](historySize)
	if err != nil {
		panic(fmt.Sprintf("locals history: %v", err))
	}

	return &MemPool{
		config:        config,
		byHash:        make(map[types.TxHash]*PoolingTransaction),
		bySigner:      make(map[crypto.Public]*btree.BTreeG[*PoolingTransaction]),
		current:       newEvictionIndex(),
		accountSeqs:   make(map[crypto.Public]uint64),
		localsHistory: history,
		stagedPuts:    make(map[types.TxHash]*PoolingTransaction),
		stagedDeletes: make(map[types.TxHash]struct{}),
		logger:        log.NewNopLogger(),
		metrics:       metrics.NullMetrics{},
	}
}

// SetLogger sets the logger.
func (mp *MemPool) SetLogger(l log.Logger) {
	mp.logger = l
}

// SetMetrics sets the metrics recorder.
func (mp *MemPool) SetMetrics(r metrics.Recorder) {
	mp.metrics = r
}

// SetBackup mirrors every pool mutation to b.
func (mp *MemPool) SetBackup(b Backup) {
	mp.backup = b
}

/*
================================================================================
                          트랜잭션 추가 흐름
================================================================================

  Add(inputs)
    │
    │ 1. signer, seq 순으로 정렬 (결과는 입력 인덱스에 기록)
    │ 2. 중복 해시          → ErrAlreadyImported
    │ 3. 최소 수수료        → ErrInsufficientFee
    │ 4. seq < 계정 seq     → ErrOld
    │ 5. fee > 잔고         → ErrInsufficientBalance
    │ 6. 같은 (signer, seq) → Local 이거나 fee bump 통과 시 교체
    │                         아니면 ErrTooCheapToReplace
    │ 7. 삽입 + current/future 재분할
    │ 8. 용량 초과 시 current 의 최저 우선순위부터 퇴출
    │    새 트랜잭션이 최저면 거부 (ErrLimitReached) + 교체된 tx 복원
    ▼
  []Result (Pending / Future / error)

================================================================================
*/

// Add inserts a batch of transactions and returns one result per input, in input order.
func (mp *MemPool) Add(inputs []Input, blockNumber, timestamp uint64, fetchAccount FetchAccount) []Result {
	mp.lastBlockNumber = blockNumber
	mp.lastTimestamp = timestamp

	order := make([]int, len(inputs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := inputs[order[a]].Tx, inputs[order[b]].Tx
		sa, sb := ta.SignerPublic(), tb.SignerPublic()
		if c := bytes.Compare(sa[:], sb[:]); c != 0 {
			return c < 0
		}
		return ta.Seq() < tb.Seq()
	})

	results := make([]Result, len(inputs))
	accounts := make(map[crypto.Public]AccountDetails)
	for _, i := range order {
		signer := inputs[i].Tx.SignerPublic()
		account, ok := accounts[signer]
		if !ok {
			account = fetchAccount(signer)
			accounts[signer] = account
		}
		results[i].Err = mp.addOne(inputs[i], account, blockNumber, timestamp)
	}

	for i := range results {
		if results[i].Err != nil {
			continue
		}
		p, ok := mp.byHash[inputs[i].Tx.Hash()]
		switch {
		case !ok:
			// 같은 배치의 뒤 트랜잭션에 의해 퇴출됨
			results[i].Err = fmt.Errorf("%w: evicted within the same batch", ErrLimitReached)
		case p.current:
			results[i].Status = Pending
		default:
			results[i].Status = Future
		}
	}

	for signer := range accounts {
		mp.pruneSigner(signer)
	}
	mp.flushBackup()
	mp.reportStatus()
	return results
}

func (mp *MemPool) addOne(in Input, account AccountDetails, blockNumber, timestamp uint64) error {
	tx := in.Tx
	hash := tx.Hash()

	if _, exists := mp.byHash[hash]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyImported, hash.Short())
	}

	if minFee := mp.config.Fees.MinFee(tx.Action().Type); tx.Fee() < minFee {
		return fmt.Errorf("%w: fee %d < min %d for %s", ErrInsufficientFee, tx.Fee(), minFee, tx.Action().Type)
	}

	if tx.Seq() < account.Seq {
		return fmt.Errorf("%w: seq %d < account seq %d", ErrOld, tx.Seq(), account.Seq)
	}

	if tx.Fee() > account.Balance {
		return fmt.Errorf("%w: fee %d > balance %d", ErrInsufficientBalance, tx.Fee(), account.Balance)
	}

	if !in.Origin.IsLocal() && mp.localsHistory.Contains(hash) {
		in.Origin = Local
	}

	signer := tx.SignerPublic()
	mp.accountSeqs[signer] = account.Seq

	replaced := mp.get(signer, tx.Seq())
	if replaced != nil {
		if !in.Origin.IsLocal() && !mp.bumpsFee(replaced.Fee, tx.Fee()) {
			return fmt.Errorf("%w: fee %d, pooled fee %d (shift %d)",
				ErrTooCheapToReplace, tx.Fee(), replaced.Fee, mp.config.FeeBumpShift)
		}
		mp.removeTx(replaced)
	}

	mp.nextInsertionID++
	p := newPoolingTransaction(in, mp.nextInsertionID, blockNumber, timestamp)
	mp.insertTx(p)
	mp.resplit(signer)

	victims, ok := mp.planEviction(p)
	if !ok {
		mp.removeTx(p)
		if replaced != nil {
			mp.insertTx(replaced)
		}
		mp.resplit(signer)
		return fmt.Errorf("%w: limit %d, memory limit %d", ErrLimitReached, mp.config.Limit, mp.config.MemoryLimit)
	}
	for _, victim := range victims {
		mp.removeTx(victim)
		mp.resplit(victim.Signer)
		mp.logger.Debug("Evicted transaction", "hash", victim.Hash().Short(), "fee", victim.Fee, "by", hash.Short())
	}
	if len(victims) > 0 {
		mp.metrics.AddEvicted(len(victims))
	}

	if replaced != nil {
		mp.logger.Debug("Replaced transaction", "old", replaced.Hash().Short(), "new", hash.Short(), "seq", p.Seq)
	}
	if in.Origin.IsLocal() {
		mp.localsHistory.Add(hash, struct{}{})
	}
	return nil
}

// bumpsFee reports whether newFee > oldFee + oldFee>>shift.
func (mp *MemPool) bumpsFee(oldFee, newFee uint64) bool {
	bump := oldFee >> mp.config.FeeBumpShift
	if oldFee > math.MaxUint64-bump {
		return false
	}
	return newFee > oldFee+bump
}

// planEviction picks the current transactions to evict so that the pool fits its limits.
// It fails when a transaction that is not strictly lower-priority than incoming would have to go.
func (mp *MemPool) planEviction(incoming *PoolingTransaction) ([]*PoolingTransaction, bool) {
	excessCount := len(mp.byHash) - mp.config.Limit
	excessBytes := 0
	if mp.config.MemoryLimit > 0 {
		excessBytes = mp.memUsage - mp.config.MemoryLimit
	}
	if excessCount <= 0 && excessBytes <= 0 {
		return nil, true
	}

	var victims []*PoolingTransaction
	mp.current.Ascend(func(p *PoolingTransaction) bool {
		if p == incoming || !lowerPriority(p, incoming) {
			return false
		}
		victims = append(victims, p)
		excessCount--
		excessBytes -= p.Size
		return excessCount > 0 || excessBytes > 0
	})
	return victims, excessCount <= 0 && excessBytes <= 0
}

/*
================================================================================
                       트랜잭션 조회 (블록 생성용)
================================================================================
*/

// TopTransactions returns includable current transactions, best fee-per-byte first,
// keeping each signer's seq order, until maxSize bytes.
func (mp *MemPool) TopTransactions(maxSize int, maxTimestamp *uint64, rng Range) PendingTransactions {
	h := make(chainHeap, 0, len(mp.bySigner))
	for _, queue := range mp.bySigner {
		chain := currentChain(queue)
		if len(chain) == 0 || !chain[0].includable(mp.lastBlockNumber, maxTimestamp) {
			continue
		}
		h = append(h, &signerChain{txs: chain})
	}
	heap.Init(&h)

	var (
		result PendingTransactions
		size   int
	)
	for h.Len() > 0 {
		chain := h[0]
		p := chain.head()
		if rng.Contains(p.InsertedTimestamp) {
			if size+p.Size > maxSize {
				break
			}
			size += p.Size
			result.Transactions = append(result.Transactions, p.Tx)
			if result.LastTimestamp == nil || *result.LastTimestamp < p.InsertedTimestamp {
				ts := p.InsertedTimestamp
				result.LastTimestamp = &ts
			}
		}

		chain.next++
		if chain.next < len(chain.txs) && chain.head().includable(mp.lastBlockNumber, maxTimestamp) {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	return result
}

func currentChain(queue *btree.BTreeG[*PoolingTransaction]) []*PoolingTransaction {
	var chain []*PoolingTransaction
	queue.Ascend(func(p *PoolingTransaction) bool {
		if !p.current {
			return false
		}
		chain = append(chain, p)
		return true
	})
	return chain
}

// CountPendingTransactions counts current transactions inserted within rng.
func (mp *MemPool) CountPendingTransactions(rng Range) int {
	count := 0
	mp.current.Ascend(func(p *PoolingTransaction) bool {
		if rng.Contains(p.InsertedTimestamp) {
			count++
		}
		return true
	})
	return count
}

// FutureTransactions returns every future transaction in insertion order.
func (mp *MemPool) FutureTransactions() []*types.SignedTransaction {
	futures := make([]*PoolingTransaction, 0, mp.futureCount)
	for _, queue := range mp.bySigner {
		queue.Ascend(func(p *PoolingTransaction) bool {
			if !p.current {
				futures = append(futures, p)
			}
			return true
		})
	}
	sort.Slice(futures, func(i, j int) bool {
		return futures[i].InsertionID < futures[j].InsertionID
	})

	txs := make([]*types.SignedTransaction, len(futures))
	for i, p := range futures {
		txs[i] = p.Tx
	}
	return txs
}

// NextSeq returns one past the highest pooled seq signed by any of addresses,
// looking at future transactions first and current ones second.
func (mp *MemPool) NextSeq(addresses []crypto.Address) (uint64, bool) {
	var (
		futureMax, currentMax uint64
		hasFuture, hasCurrent bool
	)
	for signer, queue := range mp.bySigner {
		if !containsAddress(addresses, crypto.PublicToAddress(signer)) {
			continue
		}
		queue.Ascend(func(p *PoolingTransaction) bool {
			if p.current {
				if !hasCurrent || p.Seq > currentMax {
					currentMax, hasCurrent = p.Seq, true
				}
			} else if !hasFuture || p.Seq > futureMax {
				futureMax, hasFuture = p.Seq, true
			}
			return true
		})
	}

	switch {
	case hasFuture:
		return futureMax + 1, true
	case hasCurrent:
		return currentMax + 1, true
	}
	return 0, false
}

func containsAddress(addresses []crypto.Address, target crypto.Address) bool {
	for _, a := range addresses {
		if a == target {
			return true
		}
	}
	return false
}

/*
================================================================================
                         블록 임포트 후 처리
================================================================================
*/

// Remove drops the given transactions and re-splits their signers against fetchSeq.
func (mp *MemPool) Remove(hashes []types.TxHash, fetchSeq FetchSeq, blockNumber, timestamp uint64) {
	mp.lastBlockNumber = blockNumber
	mp.lastTimestamp = timestamp

	touched := make(map[crypto.Public]struct{})
	for _, hash := range hashes {
		p, ok := mp.byHash[hash]
		if !ok {
			continue
		}
		mp.removeTx(p)
		touched[p.Signer] = struct{}{}
	}

	for signer := range touched {
		mp.accountSeqs[signer] = fetchSeq(signer)
		mp.resplit(signer)
		mp.pruneSigner(signer)
	}

	mp.flushBackup()
	mp.reportStatus()
}

// RemoveOld drops transactions already covered by the account seq, and future transactions
// that waited longer than both future queue periods.
func (mp *MemPool) RemoveOld(fetchAccount FetchAccount, blockNumber, timestamp uint64) {
	mp.lastBlockNumber = blockNumber
	mp.lastTimestamp = timestamp

	signers := make([]crypto.Public, 0, len(mp.bySigner))
	for signer := range mp.bySigner {
		signers = append(signers, signer)
	}

	expired := 0
	for _, signer := range signers {
		mp.accountSeqs[signer] = fetchAccount(signer).Seq
		mp.resplit(signer)

		queue, ok := mp.bySigner[signer]
		if !ok {
			mp.pruneSigner(signer)
			continue
		}
		var stale []*PoolingTransaction
		queue.Ascend(func(p *PoolingTransaction) bool {
			if !p.current && mp.futureExpired(p, blockNumber, timestamp) {
				stale = append(stale, p)
			}
			return true
		})
		for _, p := range stale {
			mp.removeTx(p)
		}
		expired += len(stale)
		mp.pruneSigner(signer)
	}

	if expired > 0 {
		mp.logger.Debug("Dropped expired future transactions", "count", expired)
	}
	mp.flushBackup()
	mp.reportStatus()
}

func (mp *MemPool) futureExpired(p *PoolingTransaction, blockNumber, timestamp uint64) bool {
	return blockNumber > p.InsertedBlockNumber+mp.config.FutureQueuePeriodBlocks &&
		timestamp > p.InsertedTimestamp+mp.config.FutureQueuePeriod
}

// RemoveAll empties the pool.
func (mp *MemPool) RemoveAll() {
	for _, p := range mp.byHash {
		mp.stageDelete(p)
	}
	mp.byHash = make(map[types.TxHash]*PoolingTransaction)
	mp.bySigner = make(map[crypto.Public]*btree.BTreeG[*PoolingTransaction])
	mp.current.Clear(false)
	mp.accountSeqs = make(map[crypto.Public]uint64)
	mp.futureCount = 0
	mp.memUsage = 0

	mp.flushBackup()
	mp.reportStatus()
}

// RecoverFromBackup re-imports persisted transactions with their original origin.
// Records that no longer fit the chain state are deleted from the backup.
func (mp *MemPool) RecoverFromBackup(fetchAccount FetchAccount, blockNumber, timestamp uint64) error {
	if mp.backup == nil {
		return nil
	}

	records, err := mp.backup.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load mempool backup: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	inputs := make([]Input, len(records))
	for i, r := range records {
		inputs[i] = Input{Tx: r.Tx, Origin: r.Origin, Timelock: r.Timelock}
	}
	results := mp.Add(inputs, blockNumber, timestamp, fetchAccount)

	var dropped []types.TxHash
	for i, r := range results {
		if r.Err != nil {
			if !errors.Is(r.Err, ErrAlreadyImported) {
				dropped = append(dropped, records[i].Tx.Hash())
			}
			continue
		}
		// 원래 삽입 시점 복원 (future 만료 판단용)
		if p, ok := mp.byHash[records[i].Tx.Hash()]; ok {
			p.InsertedBlockNumber = records[i].InsertedBlockNumber
			p.InsertedTimestamp = records[i].InsertedTimestamp
			mp.stagePut(p)
		}
	}
	mp.flushBackup()

	if len(dropped) > 0 {
		if err := mp.backup.Delete(dropped); err != nil {
			return fmt.Errorf("failed to drop stale backup records: %w", err)
		}
	}
	mp.logger.Info("Recovered mempool from backup", "recovered", len(records)-len(dropped), "dropped", len(dropped))
	return nil
}

/*
================================================================================
                            조회 메서드
================================================================================
*/

// SetLimit changes the maximum number of pooled transactions.
func (mp *MemPool) SetLimit(limit int) {
	mp.config.Limit = limit
}

// Limit returns the maximum number of pooled transactions.
func (mp *MemPool) Limit() int {
	return mp.config.Limit
}

// Status counts pending and future transactions.
func (mp *MemPool) Status() Status {
	return Status{
		Pending:     mp.current.Len(),
		Future:      mp.futureCount,
		MemoryUsage: mp.memUsage,
	}
}

// IsLocalTransaction reports whether a pooled transaction has origin Local.
// The second result is false when the hash is not pooled.
func (mp *MemPool) IsLocalTransaction(hash types.TxHash) (bool, bool) {
	p, ok := mp.byHash[hash]
	if !ok {
		return false, false
	}
	return p.Origin.IsLocal(), true
}

// Contains reports whether hash is pooled.
func (mp *MemPool) Contains(hash types.TxHash) bool {
	_, ok := mp.byHash[hash]
	return ok
}

// Get returns the pooled transaction with the given hash.
func (mp *MemPool) Get(hash types.TxHash) (*PoolingTransaction, bool) {
	p, ok := mp.byHash[hash]
	return p, ok
}

/*
================================================================================
                            인덱스 관리
================================================================================
*/

func (mp *MemPool) get(signer crypto.Public, seq uint64) *PoolingTransaction {
	queue, ok := mp.bySigner[signer]
	if !ok {
		return nil
	}
	p, ok := queue.Get(&PoolingTransaction{Seq: seq})
	if !ok {
		return nil
	}
	return p
}

// insertTx adds p to every index as a future transaction; resplit promotes it.
func (mp *MemPool) insertTx(p *PoolingTransaction) {
	queue, ok := mp.bySigner[p.Signer]
	if !ok {
		queue = newSignerQueue()
		mp.bySigner[p.Signer] = queue
	}
	queue.ReplaceOrInsert(p)
	mp.byHash[p.Hash()] = p

	p.current = false
	mp.futureCount++
	mp.memUsage += p.Size
	mp.stagePut(p)
}

func (mp *MemPool) removeTx(p *PoolingTransaction) {
	if _, ok := mp.byHash[p.Hash()]; !ok {
		return
	}
	delete(mp.byHash, p.Hash())

	if queue, ok := mp.bySigner[p.Signer]; ok {
		queue.Delete(p)
		if queue.Len() == 0 {
			delete(mp.bySigner, p.Signer)
		}
	}

	if p.current {
		mp.current.Delete(p)
		p.current = false
	} else {
		mp.futureCount--
	}
	mp.memUsage -= p.Size
	mp.stageDelete(p)
}

// resplit drops the signer's transactions behind its account seq and marks the
// contiguous run starting at the account seq as current.
func (mp *MemPool) resplit(signer crypto.Public) {
	queue, ok := mp.bySigner[signer]
	if !ok {
		return
	}
	accountSeq := mp.accountSeqs[signer]

	for {
		oldest, ok := queue.Min()
		if !ok || oldest.Seq >= accountSeq {
			break
		}
		mp.removeTx(oldest)
	}

	expected := accountSeq
	queue.Ascend(func(p *PoolingTransaction) bool {
		contiguous := p.Seq == expected
		if contiguous {
			expected++
		}
		mp.setCurrent(p, contiguous)
		return true
	})
}

func (mp *MemPool) setCurrent(p *PoolingTransaction, current bool) {
	if p.current == current {
		return
	}
	if current {
		mp.current.ReplaceOrInsert(p)
		mp.futureCount--
	} else {
		mp.current.Delete(p)
		mp.futureCount++
	}
	p.current = current
}

func (mp *MemPool) pruneSigner(signer crypto.Public) {
	if _, ok := mp.bySigner[signer]; !ok {
		delete(mp.accountSeqs, signer)
	}
}

func (mp *MemPool) reportStatus() {
	mp.metrics.SetPoolStatus(mp.current.Len(), mp.futureCount, mp.memUsage)
}
