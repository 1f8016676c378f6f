// Package miner admits transactions into the mempool and assembles and seals blocks from it.
package miner

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	cmtsync "github.com/cometbft/cometbft/libs/sync"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/mempool"
	"github.com/ahwlsqja/chaincore/metrics"
	"github.com/ahwlsqja/chaincore/types"
)

/*
================================================================================
                              MINER 아키텍처
================================================================================

  ImportExternalTransactions ─┐
  ImportOwnTransaction ───────┼──► addTransactionsToPool ──► MemPool.Add
  ImportIncompleteTransaction ┘          │
                                         │ 1. 서명자 공개키 복구
                                         │ 2. 격리된(malicious) 서명자 → 거부
                                         │ 3. 이미 체인에 있음 → 거부
                                         │ 4. 허용되지 않는 액션 → 거부
                                         │ 5. VerifyBasic + 엔진 검증 + 서명 검증
                                         │ 6. 머신 검증
                                         │    (5, 6 의 SyntaxError → 서명자 격리)
                                         │ 7. 타임락 계산
                                         ▼
                                   리스너에 삽입된 해시 통지

  UpdateSealing
    │ prepareBlock: OpenBlock ─► (seal-first 면 선봉인) ─► TopTransactions 푸시
    │               실패한 tx 는 pool 에서 제거, 같은 블록 내 같은 서명자는 건너뜀
    ▼
  sealAndImportBlockInternally: GenerateSeal ─► ImportSealedBlock

락 순서: OpenBlock 준비 후에 pool 락을 잡는다.
pool 락을 쥔 채로 UpdateSealing 을 호출하지 않는다.

================================================================================
*/

var (
	ErrMaliciousUser         = errors.New("signer is quarantined")
	ErrNotAllowedTransaction = errors.New("transaction type is not allowed")
	ErrNoAccountProvider     = errors.New("no account provider")
)

// AuthoringParams are the author and extra data of blocks produced by this node.
type AuthoringParams struct {
	Author    crypto.Address
	ExtraData []byte
}

// TransactionListener is notified with the hashes inserted by each import.
type TransactionListener func(hashes []types.TxHash)

// Miner drives transaction admission and block sealing.
type Miner struct {
	poolMu cmtsync.RWMutex
	pool   *mempool.MemPool

	listenersMu cmtsync.RWMutex
	listeners   []TransactionListener

	clockMu cmtsync.RWMutex
	now     func() time.Time

	resealMu            cmtsync.Mutex
	nextAllowedReseal   time.Time
	nextMandatoryReseal time.Time

	paramsMu cmtsync.RWMutex
	params   AuthoringParams

	engine  Engine
	options *Options

	sealingEnabled atomic.Bool

	accounts AccountProvider

	// 스레드 안전한 집합
	maliciousUsers mapset.Set[crypto.Address]
	immuneUsers    mapset.Set[crypto.Address]

	logger  log.Logger
	metrics metrics.Recorder
}

// New creates a miner. accounts may be nil.
func New(options *Options, engine Engine, accounts AccountProvider) *Miner {
	if options == nil {
		options = DefaultOptions()
	}

	m := &Miner{
		pool:           mempool.NewMemPool(options.poolConfig()),
		engine:         engine,
		options:        options,
		accounts:       accounts,
		maliciousUsers: mapset.NewSet[crypto.Address](),
		immuneUsers:    mapset.NewSet[crypto.Address](),
		now:            time.Now,
		logger:         log.NewNopLogger(),
		metrics:        metrics.NullMetrics{},
	}
	m.sealingEnabled.Store(true)
	m.nextAllowedReseal = m.now()
	m.nextMandatoryReseal = m.now().Add(options.ResealMaxPeriod)
	return m
}

// SetLogger sets the logger of the miner and its pool.
func (m *Miner) SetLogger(l log.Logger) {
	m.logger = l
	m.pool.SetLogger(l.With("module", "mempool"))
}

// SetMetrics sets the metrics recorder of the miner and its pool.
func (m *Miner) SetMetrics(r metrics.Recorder) {
	m.metrics = r
	m.pool.SetMetrics(r)
}

// SetBackup mirrors the pool to b.
func (m *Miner) SetBackup(b mempool.Backup) {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	m.pool.SetBackup(b)
}

// SetClock replaces the wall clock used for reseal scheduling and resets both deadlines.
// It is safe to call while the miner is sealing.
func (m *Miner) SetClock(now func() time.Time) {
	m.clockMu.Lock()
	m.now = now
	m.clockMu.Unlock()

	m.resealMu.Lock()
	defer m.resealMu.Unlock()
	m.nextAllowedReseal = now()
	m.nextMandatoryReseal = now().Add(m.options.ResealMaxPeriod)
}

func (m *Miner) currentTime() time.Time {
	m.clockMu.RLock()
	now := m.now
	m.clockMu.RUnlock()
	return now()
}

// Options returns the miner options.
func (m *Miner) Options() *Options {
	return m.options
}

// EngineType returns the type of the consensus engine.
func (m *Miner) EngineType() EngineType {
	return m.engine.EngineType()
}

// RecoverFromBackup reloads the persisted pool against the current chain state.
func (m *Miner) RecoverFromBackup(chain Chain) error {
	info := chain.ChainInfo()
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	return m.pool.RecoverFromBackup(fetchAccountFrom(chain), info.BestBlockNumber, info.BestBlockTimestamp)
}

// AddTransactionsListener registers f to be called with the hashes of imported transactions.
func (m *Miner) AddTransactionsListener(f TransactionListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, f)
}

// signerAccount resolves the account that pays for signer: its regular key owner if any.
func signerAccount(chain Chain, signer crypto.Public) crypto.Address {
	address := crypto.PublicToAddress(signer)
	if owner, ok := chain.LatestRegularKeyOwner(address); ok {
		return owner
	}
	return address
}

func fetchAccountFrom(chain Chain) mempool.FetchAccount {
	return func(signer crypto.Public) mempool.AccountDetails {
		a := signerAccount(chain, signer)
		return mempool.AccountDetails{
			Seq:     chain.LatestSeq(a),
			Balance: chain.LatestBalance(a),
		}
	}
}

func fetchSeqFrom(chain Chain) mempool.FetchSeq {
	return func(signer crypto.Public) uint64 {
		return chain.LatestSeq(signerAccount(chain, signer))
	}
}

/*
================================================================================
                          트랜잭션 임포트
================================================================================
*/

// addTransactionsToPool verifies txs and inserts the valid ones. The caller holds poolMu for writing.
func (m *Miner) addTransactionsToPool(chain Chain, txs []*types.UnverifiedTransaction, defaultOrigin mempool.Origin) []mempool.Result {
	bestHeader := chain.BestBlockHeader()
	fakeHeader := bestHeader.GenerateChild()
	info := chain.ChainInfo()

	results := make([]mempool.Result, len(txs))
	inputs := make([]mempool.Input, 0, len(txs))
	// inputs[k] 는 results[positions[k]] 에 대응
	positions := make([]int, 0, len(txs))

	for i, tx := range txs {
		input, err := m.verifyForPool(chain, tx, defaultOrigin, bestHeader, fakeHeader)
		if err != nil {
			results[i].Err = err
			m.metrics.IncRejected(rejectReason(err))
			continue
		}
		inputs = append(inputs, input)
		positions = append(positions, i)
	}

	var inserted []types.TxHash
	if len(inputs) > 0 {
		insertion := m.pool.Add(inputs, info.BestBlockNumber, info.BestBlockTimestamp, fetchAccountFrom(chain))
		for k, res := range insertion {
			results[positions[k]] = res
			if res.Err != nil {
				m.logger.Debug("Rejected transaction", "hash", inputs[k].Tx.Hash().Short(), "err", res.Err)
				m.metrics.IncRejected(rejectReason(res.Err))
				continue
			}
			inserted = append(inserted, inputs[k].Tx.Hash())
		}
	}
	if len(inserted) > 0 {
		m.metrics.AddImported(defaultOrigin.String(), len(inserted))
	}

	m.listenersMu.RLock()
	for _, listener := range m.listeners {
		listener(inserted)
	}
	m.listenersMu.RUnlock()

	return results
}

func (m *Miner) verifyForPool(
	chain Chain,
	tx *types.UnverifiedTransaction,
	defaultOrigin mempool.Origin,
	bestHeader, fakeHeader *types.Header,
) (mempool.Input, error) {
	hash := tx.Hash()
	signerPublic, err := tx.RecoverPublic()
	if err != nil {
		m.logger.Debug("Rejected transaction", "hash", hash.Short(), "err", err)
		return mempool.Input{}, err
	}
	signer := crypto.PublicToAddress(signerPublic)
	if defaultOrigin.IsLocal() {
		m.immuneUsers.Add(signer)
	}

	origin := defaultOrigin
	if m.accounts != nil {
		if has, err := m.accounts.HasPublic(signerPublic); err == nil && has {
			origin = mempool.Local
		}
	}

	if m.maliciousUsers.Contains(signer) {
		return mempool.Input{}, fmt.Errorf("%w: %s", ErrMaliciousUser, signer)
	}
	if _, ok := chain.TransactionBlockNumber(hash); ok {
		m.logger.Debug("Rejected transaction: already in the blockchain", "hash", hash.Short())
		return mempool.Input{}, types.ErrTransactionAlreadyImported
	}
	if !m.isAllowedTransaction(tx.Action()) {
		m.logger.Debug("Rejected transaction: action not allowed", "hash", hash.Short(), "action", tx.Action().Type)
		return mempool.Input{}, fmt.Errorf("%w: %s", ErrNotAllowedTransaction, tx.Action().Type)
	}

	signed, err := m.verifySeal(chain, tx, bestHeader, fakeHeader)
	if err != nil {
		m.quarantineOnSyntaxError(err, signer, origin)
		m.logger.Debug("Rejected transaction with invalid signature", "hash", hash.Short(), "err", err)
		return mempool.Input{}, err
	}
	if err := m.engine.Machine().VerifyTransaction(signed, fakeHeader, chain, false); err != nil {
		m.quarantineOnSyntaxError(err, signer, origin)
		m.logger.Debug("Rejected transaction", "hash", hash.Short(), "err", err)
		return mempool.Input{}, err
	}

	timelock, err := calculateTimelock(signed, chain)
	if err != nil {
		return mempool.Input{}, err
	}
	return mempool.Input{Tx: signed, Origin: origin, Timelock: timelock}, nil
}

func (m *Miner) verifySeal(chain Chain, tx *types.UnverifiedTransaction, bestHeader, fakeHeader *types.Header) (*types.SignedTransaction, error) {
	if err := tx.VerifyBasic(); err != nil {
		return nil, err
	}
	params, ok := chain.CommonParams(types.BlockIDFromHash(bestHeader.Hash()))
	if !ok {
		panic(fmt.Sprintf("common params of the best block %d must exist", bestHeader.Number))
	}
	if err := m.engine.VerifyTransactionWithParams(tx, params); err != nil {
		return nil, err
	}
	return m.engine.Machine().VerifyTransactionSeal(tx, fakeHeader)
}

// quarantineOnSyntaxError marks signer malicious for syntax failures of untrusted origin.
func (m *Miner) quarantineOnSyntaxError(err error, signer crypto.Address, origin mempool.Origin) {
	if !types.IsSyntaxError(err) || origin.IsLocal() || m.immuneUsers.Contains(signer) {
		return
	}
	m.quarantine(signer)
}

func (m *Miner) quarantine(signer crypto.Address) {
	if m.maliciousUsers.Add(signer) {
		m.logger.Info("Quarantined signer", "address", signer)
	}
	m.metrics.SetQuarantined(m.maliciousUsers.Cardinality())
}

func (m *Miner) isAllowedTransaction(action *types.Action) bool {
	return action.Type != types.ActionCreateShard || m.options.AllowCreateShard
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMaliciousUser):
		return "malicious"
	case errors.Is(err, ErrNotAllowedTransaction):
		return "not_allowed"
	case errors.Is(err, types.ErrTransactionAlreadyImported), errors.Is(err, mempool.ErrAlreadyImported):
		return "already_imported"
	case errors.Is(err, mempool.ErrOld):
		return "old"
	case errors.Is(err, mempool.ErrTooCheapToReplace):
		return "too_cheap_to_replace"
	case errors.Is(err, mempool.ErrLimitReached):
		return "limit_reached"
	case errors.Is(err, mempool.ErrInsufficientFee), errors.Is(err, mempool.ErrInsufficientBalance):
		return "insufficient_fee"
	case types.IsSyntaxError(err):
		return "syntax"
	}
	return "other"
}

// calculateTimelock resolves the latest block and timestamp required by the asset inputs of tx.
func calculateTimelock(tx *types.SignedTransaction, chain Chain) (mempool.Timelock, error) {
	var (
		timelock               mempool.Timelock
		maxBlock, maxTimestamp uint64
	)
	action := tx.Action()
	if action.Type != types.ActionTransferAsset {
		return timelock, nil
	}

	for _, input := range action.Inputs {
		if input.Timelock == nil {
			continue
		}
		lock := *input.Timelock
		value := lock.Value
		switch lock.Type {
		case types.TimelockBlockAge:
			number, ok := chain.TransactionBlockNumber(input.PrevOut.Tracker)
			if !ok {
				return timelock, &types.HistoryError{Kind: types.HistoryTimelocked, Timelock: &lock, RemainingTime: math.MaxUint64}
			}
			value = saturatingAdd(number, lock.Value)
		case types.TimelockTimeAge:
			ts, ok := chain.TransactionBlockTimestamp(input.PrevOut.Tracker)
			if !ok {
				return timelock, &types.HistoryError{Kind: types.HistoryTimelocked, Timelock: &lock, RemainingTime: math.MaxUint64}
			}
			value = saturatingAdd(ts, lock.Value)
		}

		if lock.IsBlockBased() {
			if timelock.Block == nil || maxBlock < value {
				maxBlock = value
				timelock.Block = &maxBlock
			}
		} else if timelock.Timestamp == nil || maxTimestamp < value {
			maxTimestamp = value
			timelock.Timestamp = &maxTimestamp
		}
	}
	return timelock, nil
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// ImportExternalTransactions imports transactions received from peers and reseals if allowed.
func (m *Miner) ImportExternalTransactions(chain Chain, txs []*types.UnverifiedTransaction) []mempool.Result {
	m.poolMu.Lock()
	results := m.addTransactionsToPool(chain, txs, mempool.External)
	m.poolMu.Unlock()

	if len(results) > 0 &&
		m.options.ResealOnExternalTransaction &&
		m.transactionResealAllowed() &&
		!m.EngineType().IgnoreResealOnTransaction() {
		m.UpdateSealing(chain, types.LatestBlock, false)
	}
	return results
}

// ImportOwnTransaction imports a transaction submitted to this node and reseals if allowed.
func (m *Miner) ImportOwnTransaction(chain Chain, tx *types.SignedTransaction) (mempool.InsertionResult, error) {
	m.poolMu.Lock()
	result := m.addTransactionsToPool(chain, []*types.UnverifiedTransaction{tx.UnverifiedTransaction}, mempool.Local)[0]
	status := m.pool.Status()
	m.poolMu.Unlock()

	if result.Err != nil {
		m.logger.Info("Error importing transaction", "hash", tx.Hash().Short(), "err", result.Err,
			"pending", status.Pending, "future", status.Future)
		return result.Status, result.Err
	}

	if m.options.ResealOnOwnTransaction &&
		m.transactionResealAllowed() &&
		!m.EngineType().IgnoreResealOnTransaction() &&
		m.engine.SealsInternally() {
		m.UpdateSealing(chain, types.LatestBlock, false)
	}
	return result.Status, nil
}

// ImportIncompleteTransaction picks a seq, signs tx with a local key and imports it as own.
// With a nil seq it continues after the address's pooled transactions, or uses the chain seq.
func (m *Miner) ImportIncompleteTransaction(
	chain Chain,
	accounts AccountProvider,
	incomplete *types.IncompleteTransaction,
	address crypto.Address,
	passphrase *string,
	seq *uint64,
) (types.TxHash, uint64, error) {
	var next uint64
	if seq != nil {
		next = *seq
	} else {
		addresses := []crypto.Address{address}
		if owner, ok := chain.LatestRegularKeyOwner(address); ok {
			addresses = append(addresses, owner)
		}
		if key, ok := chain.LatestRegularKey(address); ok {
			addresses = append(addresses, crypto.PublicToAddress(key))
		}

		m.poolMu.RLock()
		pooled, ok := m.pool.NextSeq(addresses)
		m.poolMu.RUnlock()
		if ok {
			next = pooled
		} else {
			next = chain.LatestSeq(address)
		}
	}

	tx := incomplete.Complete(next)
	sig, err := accounts.Sign(address, passphrase, tx.Hash())
	if err != nil {
		return types.TxHash{}, 0, err
	}
	signed, err := types.NewSignedTransaction(types.NewUnverifiedTransaction(tx, sig))
	if err != nil {
		return types.TxHash{}, 0, err
	}
	if _, err := m.ImportOwnTransaction(chain, signed); err != nil {
		return types.TxHash{}, 0, err
	}
	return signed.Hash(), next, nil
}

/*
================================================================================
                            블록 준비 / 봉인
================================================================================
*/

// prepareBlock assembles a closed block on top of parent. It returns nil when the engine
// declines to pre-seal.
func (m *Miner) prepareBlock(parent types.BlockID, chain Chain) (*ClosedBlock, error) {
	start := m.currentTime()
	params := m.AuthoringParams()
	open, err := chain.PrepareOpenBlock(parent, params.Author, params.ExtraData)
	if err != nil {
		return nil, err
	}
	header := open.Header()
	blockNumber := header.Number
	parentID := types.BlockIDFromHash(header.ParentHash)

	common, ok := chain.CommonParams(parentID)
	if !ok {
		panic(fmt.Sprintf("common params of parent %s must exist", header.ParentHash))
	}

	// OpenBlock 준비 이후에 pool 락
	timestamp := header.Timestamp
	m.poolMu.RLock()
	transactions := m.pool.TopTransactions(common.MaxBodySize, &timestamp, mempool.FullRange).Transactions
	m.poolMu.RUnlock()

	parentHeader, ok := chain.BlockHeader(parentID)
	if !ok {
		panic(fmt.Sprintf("parent header %s must exist", header.ParentHash))
	}
	if m.EngineType().IsSealFirst() {
		if !m.engine.SealsInternally() {
			panic("seal-first engine must seal internally")
		}
		fields, ok := m.engine.GenerateSeal(nil, parentHeader)
		if !ok {
			return nil, nil
		}
		if err := open.Seal(fields); err != nil {
			return nil, fmt.Errorf("failed to pre-seal block %d: %w", blockNumber, err)
		}
	}
	if err := m.engine.OnOpenBlock(open); err != nil {
		return nil, err
	}

	var (
		invalidTransactions []types.TxHash
		invalidTxUsers      = make(map[crypto.Public]struct{})
		pushed              int
	)
	for _, tx := range transactions {
		signerPublic := tx.SignerPublic()
		signer := crypto.PublicToAddress(signerPublic)
		hash := tx.Hash()

		if m.maliciousUsers.Contains(signer) {
			invalidTransactions = append(invalidTransactions, hash)
			continue
		}
		if _, failed := invalidTxUsers[signerPublic]; failed {
			// 같은 블록에서 이전 트랜잭션이 실패함
			continue
		}
		if !m.isAllowedTransaction(tx.Action()) {
			invalidTxUsers[signerPublic] = struct{}{}
			invalidTransactions = append(invalidTransactions, hash)
			continue
		}

		err := m.engine.Machine().VerifyTransaction(tx, open.Header(), chain, true)
		if err == nil {
			err = open.PushTransaction(tx)
		}

		switch {
		case err == nil:
			pushed++
		case errors.Is(err, types.ErrTransactionAlreadyImported):
		default:
			if errors.Is(err, types.ErrAssetSupplyOverflow) || errors.Is(err, types.ErrInvalidScript) {
				// 조립 중에 교체되어 pool 에 없으면 외부 트랜잭션으로 취급
				m.poolMu.RLock()
				isLocal, _ := m.pool.IsLocalTransaction(hash)
				m.poolMu.RUnlock()
				if !isLocal && !m.immuneUsers.Contains(signer) {
					m.quarantine(signer)
				}
			}
			invalidTxUsers[signerPublic] = struct{}{}
			invalidTransactions = append(invalidTransactions, hash)
			m.logger.Info("Error adding transaction to block", "number", blockNumber, "hash", hash.Short(), "err", err)
		}
	}
	m.logger.Debug("Pushed transactions", "pushed", pushed, "total", len(transactions))

	closed, err := open.Close()
	if err != nil {
		return nil, err
	}

	info := chain.ChainInfo()
	m.poolMu.Lock()
	m.pool.Remove(invalidTransactions, fetchSeqFrom(chain), info.BestBlockNumber, info.BestBlockTimestamp)
	m.poolMu.Unlock()

	m.metrics.ObserveBlockPreparation(m.currentTime().Sub(start), pushed)
	return closed, nil
}

// sealAndImportBlockInternally seals block with the engine and imports it. It reports whether
// a block was imported.
func (m *Miner) sealAndImportBlockInternally(chain Chain, block *ClosedBlock) bool {
	m.resealMu.Lock()
	mandatory := m.nextMandatoryReseal
	m.resealMu.Unlock()

	if len(block.Transactions()) == 0 && !m.options.ForceSealing && !m.currentTime().After(mandatory) {
		m.logger.Debug("No sealing: empty block")
		m.metrics.IncSkippedBlocks("empty")
		return false
	}

	parentHeader, ok := chain.BlockHeader(types.BlockIDFromHash(block.Header().ParentHash))
	if !ok {
		return false
	}
	if !m.engine.SealsInternally() {
		return false
	}

	m.resealMu.Lock()
	m.nextMandatoryReseal = m.currentTime().Add(m.options.ResealMaxPeriod)
	m.resealMu.Unlock()

	var sealed *types.Block
	if m.EngineType().IsSealFirst() {
		sealed = block.Block()
	} else {
		fields, ok := m.engine.GenerateSeal(block.Block(), parentHeader)
		if !ok {
			m.logger.Debug("No seal is generated")
			m.metrics.IncSkippedBlocks("no_seal")
			return false
		}
		var err error
		sealed, err = block.seal(m.engine, fields)
		if err != nil {
			m.logger.Error("Seal failed when given internally generated seal", "err", err)
			m.metrics.IncSkippedBlocks("seal_failed")
			return false
		}
	}

	if m.engine.IsProposal(&sealed.Header) {
		m.engine.ProposalGenerated(sealed)
	}

	if err := chain.ImportSealedBlock(sealed); err != nil {
		m.logger.Error("Failed to import sealed block", "number", sealed.Header.Number, "err", err)
		m.metrics.IncSkippedBlocks("import_failed")
		return false
	}
	m.metrics.IncSealedBlocks()
	return true
}

// UpdateSealing prepares a block on parent and seals it if the engine seals internally.
// Failures only skip this round.
func (m *Miner) UpdateSealing(chain Chain, parent types.BlockID, allowEmptyBlock bool) {
	block, err := m.prepareBlock(parent, chain)
	switch {
	case err != nil:
		m.logger.Debug("Cannot prepare block", "err", err)
		return
	case block == nil:
		m.logger.Debug("Cannot prepare block: no pre-seal")
		return
	case !allowEmptyBlock && len(block.Transactions()) == 0:
		return
	}

	if !m.engine.SealsInternally() {
		return
	}
	if m.sealAndImportBlockInternally(chain, block) {
		m.logger.Debug("Imported internally sealed block", "number", block.Header().Number)
	}

	m.resealMu.Lock()
	m.nextAllowedReseal = m.currentTime().Add(m.options.ResealMinPeriod)
	m.resealMu.Unlock()
	if !m.options.NoResealTimer {
		chain.SetMinTimer()
	}
}

// transactionResealAllowed reports whether a non-mandatory reseal may run now.
func (m *Miner) transactionResealAllowed() bool {
	if !m.sealingEnabled.Load() {
		return false
	}
	m.resealMu.Lock()
	defer m.resealMu.Unlock()
	return m.currentTime().After(m.nextAllowedReseal)
}

// MandatoryResealDue reports whether the maximum period without a block has elapsed.
func (m *Miner) MandatoryResealDue() bool {
	m.resealMu.Lock()
	defer m.resealMu.Unlock()
	return m.currentTime().After(m.nextMandatoryReseal)
}

// UntilMandatoryReseal returns how long until the mandatory reseal deadline, negative once it
// has elapsed.
func (m *Miner) UntilMandatoryReseal() time.Duration {
	now := m.currentTime()
	m.resealMu.Lock()
	defer m.resealMu.Unlock()
	return m.nextMandatoryReseal.Sub(now)
}

// ChainNewBlocks re-imports the transactions of retracted blocks and drops transactions
// made obsolete by the new best chain.
func (m *Miner) ChainNewBlocks(chain Chain, imported, invalid, enacted, retracted []types.BlockHash) {
	m.logger.Debug("Chain new blocks", "imported", len(imported), "enacted", len(enacted), "retracted", len(retracted))

	m.poolMu.Lock()
	for _, hash := range retracted {
		block, ok := chain.Block(types.BlockIDFromHash(hash))
		if !ok {
			panic(fmt.Sprintf("retracted block %s must be available", hash))
		}
		txs := make([]*types.UnverifiedTransaction, len(block.Transactions))
		for i, tx := range block.Transactions {
			txs[i] = tx.UnverifiedTransaction
		}
		m.addTransactionsToPool(chain, txs, mempool.RetractedBlock)
	}

	info := chain.ChainInfo()
	m.pool.RemoveOld(fetchAccountFrom(chain), info.BestBlockNumber, info.BestBlockTimestamp)
	m.poolMu.Unlock()

	if !m.options.NoResealTimer {
		chain.SetMinTimer()
	}
}

/*
================================================================================
                              조회 / 설정
================================================================================
*/

// Status returns the pool counts.
func (m *Miner) Status() mempool.Status {
	m.poolMu.RLock()
	defer m.poolMu.RUnlock()
	return m.pool.Status()
}

// AuthoringParams returns the current author and extra data.
func (m *Miner) AuthoringParams() AuthoringParams {
	m.paramsMu.RLock()
	defer m.paramsMu.RUnlock()
	params := m.params
	params.ExtraData = append([]byte(nil), m.params.ExtraData...)
	return params
}

// SetAuthor sets the block author. Engines that sign blocks need the author's key unlocked.
func (m *Miner) SetAuthor(address crypto.Address) error {
	m.paramsMu.Lock()
	m.params.Author = address
	m.paramsMu.Unlock()

	if !m.EngineType().NeedSignerKey() {
		return nil
	}
	if m.accounts == nil {
		m.logger.Error("No account provider")
		return ErrNoAccountProvider
	}
	// 테스트 메시지 서명
	if _, err := m.accounts.Sign(address, nil, make([]byte, 32)); err != nil {
		return err
	}
	m.logger.Debug("Set author", "address", address)
	m.engine.SetSigner(m.accounts, address)
	return nil
}

// SetExtraData sets the extra data of produced blocks.
func (m *Miner) SetExtraData(extraData []byte) {
	m.paramsMu.Lock()
	defer m.paramsMu.Unlock()
	m.params.ExtraData = append([]byte(nil), extraData...)
}

// TransactionsLimit returns the pool capacity.
func (m *Miner) TransactionsLimit() int {
	m.poolMu.RLock()
	defer m.poolMu.RUnlock()
	return m.pool.Limit()
}

// SetTransactionsLimit changes the pool capacity.
func (m *Miner) SetTransactionsLimit(limit int) {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	m.pool.SetLimit(limit)
}

// DeleteAllPendingTransactions empties the pool.
func (m *Miner) DeleteAllPendingTransactions() {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	m.pool.RemoveAll()
}

// ReadyTransactions returns the transactions a block could include now, inserted within rng.
func (m *Miner) ReadyTransactions(rng mempool.Range) mempool.PendingTransactions {
	maxBodySize := m.engine.Machine().GenesisCommonParams().MaxBodySize
	m.poolMu.RLock()
	defer m.poolMu.RUnlock()
	return m.pool.TopTransactions(maxBodySize, nil, rng)
}

// CountPendingTransactions counts current transactions inserted within rng.
func (m *Miner) CountPendingTransactions(rng mempool.Range) int {
	m.poolMu.RLock()
	defer m.poolMu.RUnlock()
	return m.pool.CountPendingTransactions(rng)
}

// FutureTransactions returns the transactions waiting for an earlier seq.
func (m *Miner) FutureTransactions() []*types.SignedTransaction {
	m.poolMu.RLock()
	defer m.poolMu.RUnlock()
	return m.pool.FutureTransactions()
}

// PooledTransactions returns the pooled transactions among hashes, skipping unknown ones.
func (m *Miner) PooledTransactions(hashes []types.TxHash) []*types.SignedTransaction {
	m.poolMu.RLock()
	defer m.poolMu.RUnlock()
	txs := make([]*types.SignedTransaction, 0, len(hashes))
	for _, hash := range hashes {
		if p, ok := m.pool.Get(hash); ok {
			txs = append(txs, p.Tx)
		}
	}
	return txs
}

// StartSealing enables sealing and seals immediately if allowed.
func (m *Miner) StartSealing(chain Chain) {
	m.logger.Debug("Start sealing")
	m.sealingEnabled.Store(true)
	if m.transactionResealAllowed() {
		m.UpdateSealing(chain, types.LatestBlock, true)
	}
}

// StopSealing disables transaction-driven sealing.
func (m *Miner) StopSealing() {
	m.logger.Debug("Stop sealing")
	m.sealingEnabled.Store(false)
}

// MaliciousUsers returns the quarantined addresses.
func (m *Miner) MaliciousUsers() []crypto.Address {
	return m.maliciousUsers.ToSlice()
}

// ReleaseMaliciousUsers lifts the quarantine of addresses.
func (m *Miner) ReleaseMaliciousUsers(addresses []crypto.Address) {
	m.maliciousUsers.RemoveAll(addresses...)
	m.metrics.SetQuarantined(m.maliciousUsers.Cardinality())
}

// ImprisonMaliciousUsers quarantines addresses.
func (m *Miner) ImprisonMaliciousUsers(addresses []crypto.Address) {
	m.maliciousUsers.Append(addresses...)
	m.metrics.SetQuarantined(m.maliciousUsers.Cardinality())
}

// ImmuneUsers returns the addresses that are never quarantined automatically.
func (m *Miner) ImmuneUsers() []crypto.Address {
	return m.immuneUsers.ToSlice()
}

// RegisterImmuneUsers makes addresses immune to automatic quarantine.
func (m *Miner) RegisterImmuneUsers(addresses []crypto.Address) {
	m.immuneUsers.Append(addresses...)
}
