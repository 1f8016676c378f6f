package mempool

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	cmtsync "github.com/cometbft/cometbft/libs/sync"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ahwlsqja/chaincore/network"
	"github.com/ahwlsqja/chaincore/types"
)

/*
================================================================================
                         MEMPOOL REACTOR
================================================================================

Reactor는 pool 에 새로 들어온 트랜잭션을 established 피어에게 전파하고,
피어가 보낸 트랜잭션을 받아 임포트 함수로 넘깁니다.
페이로드는 피어별 Session 으로 암호화됩니다.

┌─────────────────────────────────────────────────────────────────────────────┐
│                                                                             │
│   Miner listener ── Enqueue(hashes) ──► queue ──► broadcastLoop             │
│                                                      │                      │
│                                    lookup(hashes) ◄──┤ 배치 (delay / size)  │
│                                                      │                      │
│                              JSON ─► Session.Seal ─► Broadcaster.Send(peer) │
│                                                                             │
│   Peer ── ReceiveTransactions(peer, sealed) ─► Session.Open ─► JSON         │
│                                                      │                      │
│                                                      ▼                      │
│                                               importer(txs)                 │
│                                                                             │
└─────────────────────────────────────────────────────────────────────────────┘

================================================================================
*/

var (
	ErrUnknownPeer      = errors.New("no established session with peer")
	ErrInvalidTxPayload = errors.New("invalid transaction payload")
)

// Broadcaster sends an encrypted payload to a peer.
type Broadcaster interface {
	Send(peer network.SocketAddr, payload []byte) error
}

// PeerSessions lists established peers and their sessions. *network.RoutingTable implements it.
type PeerSessions interface {
	EstablishedAddresses() []network.SocketAddr
	Session(target network.SocketAddr) (network.Session, bool)
}

// TxLookup returns the pooled transactions among hashes.
type TxLookup func(hashes []types.TxHash) []*types.SignedTransaction

// TxImporter imports transactions received from a peer.
type TxImporter func(txs []*types.UnverifiedTransaction) []Result

// ReactorConfig는 리액터 설정임.
type ReactorConfig struct {
	// 브로드캐스트 설정
	BroadcastEnabled  bool          // 브로드캐스트 활성화
	BroadcastDelay    time.Duration // 브로드캐스트 지연 (배치용)
	MaxBroadcastBatch int           // 한 번에 브로드캐스트할 최대 tx 수

	MaxPendingTxs int // 전파 대기 최대 tx 수

	// 이미 전파한 해시 기록 크기
	RelayedHistorySize int
}

// DefaultReactorConfig는 리액터의 디폴트 설정값임
func DefaultReactorConfig() *ReactorConfig {
	return &ReactorConfig{
		BroadcastEnabled:   true,
		BroadcastDelay:     10 * time.Millisecond,
		MaxBroadcastBatch:  100,
		MaxPendingTxs:      10000,
		RelayedHistorySize: 16384,
	}
}

// Reactor relays pooled transactions between the local pool and established peers.
type Reactor struct {
	mu cmtsync.RWMutex

	config   *ReactorConfig
	peers    PeerSessions
	lookup   TxLookup
	importer TxImporter

	// 네트워크 브로드캐스터
	broadcaster Broadcaster

	queue   chan types.TxHash
	relayed *lru.Cache[types.TxHash, struct{}]

	rng    io.Reader
	logger log.Logger

	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReactor creates a reactor relaying through peers' sessions.
func NewReactor(peers PeerSessions, lookup TxLookup, importer TxImporter, config *ReactorConfig) *Reactor {
	if config == nil {
		config = DefaultReactorConfig()
	}
	historySize := config.RelayedHistorySize
	if historySize <= 0 {
		historySize = DefaultReactorConfig().RelayedHistorySize
	}
	relayed, err := lru.New[types.TxHash, struct{}](historySize)
	if err != nil {
		panic(fmt.Sprintf("relayed history: %v", err))
	}

	return &Reactor{
		config:   config,
		peers:    peers,
		lookup:   lookup,
		importer: importer,
		queue:    make(chan types.TxHash, config.MaxPendingTxs),
		relayed:  relayed,
		rng:      rand.Reader,
		logger:   log.NewNopLogger(),
	}
}

// SetBroadcaster sets the network broadcaster.
func (r *Reactor) SetBroadcaster(b Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster = b
}

// SetLogger sets the logger.
func (r *Reactor) SetLogger(l log.Logger) {
	r.logger = l
}

// Start starts the broadcast loop.
func (r *Reactor) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return nil
	}
	r.isRunning = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.done = make(chan struct{})

	go r.broadcastLoop(r.ctx, r.done)
	return nil
}

// Stop stops the broadcast loop and waits for it to exit.
func (r *Reactor) Stop() error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done
	return nil
}

// Enqueue schedules hashes for relay. It has the shape of a miner transaction listener.
func (r *Reactor) Enqueue(hashes []types.TxHash) {
	if !r.config.BroadcastEnabled {
		return
	}
	for _, hash := range hashes {
		if r.relayed.Contains(hash) {
			continue
		}
		select {
		case r.queue <- hash:
		default:
			// 큐가 가득 차면 무시 (이미 pool 에는 있음)
			r.logger.Debug("Relay queue full", "hash", hash.Short())
		}
	}
}

/*
================================================================================
                    트랜잭션 수신 (피어 → pool)
================================================================================
*/

// ReceiveTransactions opens a payload sealed by peer and imports its transactions.
// It returns the number of transactions the pool accepted. Duplicates are not errors.
func (r *Reactor) ReceiveTransactions(peer network.SocketAddr, sealed []byte) (int, error) {
	session, ok := r.peers.Session(peer)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	payload, err := session.Open(sealed)
	if err != nil {
		return 0, fmt.Errorf("failed to open payload from %s: %w", peer, err)
	}

	var txs []*types.UnverifiedTransaction
	if err := json.Unmarshal(payload, &txs); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTxPayload, err)
	}
	for _, tx := range txs {
		if tx == nil {
			return 0, fmt.Errorf("%w: null transaction", ErrInvalidTxPayload)
		}
		// 받은 트랜잭션은 다시 전파하지 않음
		r.relayed.Add(tx.Hash(), struct{}{})
	}

	accepted := 0
	for i, res := range r.importer(txs) {
		switch {
		case res.Err == nil:
			accepted++
		case errors.Is(res.Err, ErrAlreadyImported), errors.Is(res.Err, types.ErrTransactionAlreadyImported):
			// 다른 피어에서도 받았을 수 있음
		default:
			r.logger.Debug("Rejected relayed transaction", "peer", peer, "hash", txs[i].Hash().Short(), "err", res.Err)
		}
	}
	return accepted, nil
}

/*
================================================================================
                    트랜잭션 전파 (pool → 피어)
================================================================================
*/

func (r *Reactor) broadcastLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var batch []types.TxHash
	ticker := time.NewTicker(r.config.BroadcastDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case hash := <-r.queue:
			batch = append(batch, hash)

			// 배치가 가득 차면 즉시 전송
			if len(batch) >= r.config.MaxBroadcastBatch {
				r.broadcastBatch(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.broadcastBatch(batch)
				batch = nil
			}
		}
	}
}

// broadcastBatch seals the still-pooled transactions of batch for every established peer.
func (r *Reactor) broadcastBatch(batch []types.TxHash) {
	r.mu.RLock()
	broadcaster := r.broadcaster
	r.mu.RUnlock()
	if broadcaster == nil {
		return
	}

	txs := r.lookup(batch)
	if len(txs) == 0 {
		return
	}
	payload, err := json.Marshal(txs)
	if err != nil {
		r.logger.Error("Failed to encode transactions", "err", err)
		return
	}

	sent := 0
	for _, peer := range r.peers.EstablishedAddresses() {
		session, ok := r.peers.Session(peer)
		if !ok {
			continue
		}
		sealed, err := session.Seal(payload, r.rng)
		if err != nil {
			r.logger.Error("Failed to seal transactions", "peer", peer, "err", err)
			continue
		}
		if err := broadcaster.Send(peer, sealed); err != nil {
			r.logger.Debug("Failed to relay transactions", "peer", peer, "err", err)
			continue
		}
		sent++
	}

	for _, tx := range txs {
		r.relayed.Add(tx.Hash(), struct{}{})
	}
	r.logger.Debug("Relayed transactions", "txs", len(txs), "peers", sent)
}
