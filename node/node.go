package node

import (
	"errors"
	"fmt"

	"github.com/cometbft/cometbft/libs/log"
	cmtsync "github.com/cometbft/cometbft/libs/sync"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahwlsqja/chaincore/mempool"
	"github.com/ahwlsqja/chaincore/metrics"
	"github.com/ahwlsqja/chaincore/miner"
	"github.com/ahwlsqja/chaincore/network"
	"github.com/ahwlsqja/chaincore/persistence"
	"github.com/ahwlsqja/chaincore/types"
)

/*
================================================================================
                              NODE 구성
================================================================================

  Config ─► metrics ─► DB ─► Chain.Restore ─► Miner (backup 복구)
                                               │
            Chain ── 새 블록 ──► Miner.ChainNewBlocks
            Chain ── SetMinTimer ──► ResealTimer ──► Miner.UpdateSealing
            Miner ── 리스너 ──► Reactor.Enqueue ──► RoutingTable 세션 ──► Broadcaster

================================================================================
*/

var ErrAlreadyRunning = errors.New("node already running")

// Chain is the chain a node drives. It reports new blocks and reseal requests through hooks.
type Chain interface {
	miner.Chain
	SetNewBlocksHandler(func(imported []types.BlockHash))
	SetMinTimerHandler(func())
}

// restorer is implemented by chains that replay and persist their blocks.
type restorer interface {
	Restore(store *persistence.BlockStore) error
}

// Node owns the miner and its supporting services.
type Node struct {
	mu cmtsync.Mutex

	config *Config
	chain  Chain

	miner   *miner.Miner
	timer   *miner.ResealTimer
	routing *network.RoutingTable
	reactor *mempool.Reactor

	db            *persistence.DB
	metricsServer *metrics.Server
	registry      *prometheus.Registry

	// State
	running bool
	stopped bool
	errCh   chan error

	logger log.Logger
}

// New builds a node on chain and engine. accounts holds the local keys and may be nil.
func New(config *Config, chain Chain, engine miner.Engine, accounts miner.AccountProvider, logger log.Logger) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger, err := config.NewLogger(logger)
	if err != nil {
		return nil, err
	}

	n := &Node{
		config:   config,
		chain:    chain,
		registry: prometheus.NewRegistry(),
		errCh:    make(chan error, 1),
		logger:   logger.With("module", "node"),
	}

	// 매트릭
	var recorder metrics.Recorder = metrics.NullMetrics{}
	if config.MetricsEnabled {
		m, err := metrics.NewMetrics("chaincore", n.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		recorder = m
		n.metricsServer = metrics.NewServer(config.MetricsAddr, n.registry)
	}

	// 저장소
	if config.DataDir == "" {
		n.db, err = persistence.OpenMemory()
	} else {
		n.db, err = persistence.Open(config.DataDir)
	}
	if err != nil {
		return nil, err
	}
	if r, ok := chain.(restorer); ok {
		if err := r.Restore(persistence.NewBlockStore(n.db)); err != nil {
			n.db.Close()
			return nil, fmt.Errorf("failed to restore chain: %w", err)
		}
	}

	// 마이너
	options, err := config.MinerOptions()
	if err != nil {
		n.db.Close()
		return nil, err
	}
	n.miner = miner.New(options, engine, accounts)
	n.miner.SetLogger(logger.With("module", "miner"))
	n.miner.SetMetrics(recorder)
	n.miner.SetBackup(persistence.NewMempoolBackup(n.db))
	if err := n.miner.RecoverFromBackup(chain); err != nil {
		n.db.Close()
		return nil, fmt.Errorf("failed to recover mempool: %w", err)
	}
	if author, ok, err := config.Author(); err != nil {
		n.db.Close()
		return nil, err
	} else if ok {
		if err := n.miner.SetAuthor(author); err != nil {
			n.db.Close()
			return nil, fmt.Errorf("failed to set author: %w", err)
		}
	}
	n.miner.SetExtraData([]byte(config.Mining.ExtraData))

	chain.SetNewBlocksHandler(func(imported []types.BlockHash) {
		n.miner.ChainNewBlocks(chain, imported, nil, imported, nil)
	})
	n.timer = miner.NewResealTimer(n.miner, chain, logger.With("module", "reseal"))
	chain.SetMinTimerHandler(n.timer.SetMinTimer)

	// 라우팅 테이블
	n.routing = network.NewRoutingTable()
	n.routing.SetLogger(logger.With("module", "routing"))
	n.routing.SetMetrics(recorder)
	bootstrap, err := config.BootstrapAddresses()
	if err != nil {
		n.db.Close()
		return nil, err
	}
	if err := n.routing.TouchAddresses(bootstrap); err != nil {
		n.db.Close()
		return nil, fmt.Errorf("failed to register bootstrap addresses: %w", err)
	}

	// 트랜잭션 전파
	n.reactor = mempool.NewReactor(
		n.routing,
		n.miner.PooledTransactions,
		func(txs []*types.UnverifiedTransaction) []mempool.Result {
			return n.miner.ImportExternalTransactions(chain, txs)
		},
		config.ReactorConfig(),
	)
	n.reactor.SetLogger(logger.With("module", "reactor"))
	n.miner.AddTransactionsListener(n.reactor.Enqueue)

	return n, nil
}

// Start starts the node services.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running || n.stopped {
		return ErrAlreadyRunning
	}

	if err := n.reactor.Start(); err != nil {
		return fmt.Errorf("failed to start reactor: %w", err)
	}
	if !n.config.Mining.NoResealTimer {
		if err := n.timer.Start(); err != nil {
			n.reactor.Stop()
			return fmt.Errorf("failed to start reseal timer: %w", err)
		}
	}
	if n.metricsServer != nil {
		n.metricsServer.Start(n.errCh)
		n.logger.Info("Metrics server started", "addr", n.metricsServer.Addr())
	}
	n.running = true

	status := n.miner.Status()
	info := n.chain.ChainInfo()
	n.logger.Info("Node started",
		"best", info.BestBlockNumber,
		"pending", status.Pending,
		"future", status.Future,
		"bootstrap", len(n.config.Network.BootstrapAddresses),
	)
	return nil
}

// Stop stops the node services and closes the database.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return nil
	}
	n.stopped = true

	var errs []error
	if n.running {
		n.running = false
		if n.timer.IsRunning() {
			errs = append(errs, n.timer.Stop())
		}
		errs = append(errs, n.reactor.Stop())
		if n.metricsServer != nil {
			errs = append(errs, n.metricsServer.Stop())
		}
	}
	errs = append(errs, n.db.Close())

	n.logger.Info("Node stopped")
	return errors.Join(errs...)
}

// Errors reports fatal background errors such as a metrics listener failure.
func (n *Node) Errors() <-chan error {
	return n.errCh
}

// SubmitTransaction imports a transaction signed by a local client.
func (n *Node) SubmitTransaction(tx *types.SignedTransaction) (mempool.InsertionResult, error) {
	return n.miner.ImportOwnTransaction(n.chain, tx)
}

// ReceiveTransactions imports a sealed transaction batch relayed by peer.
func (n *Node) ReceiveTransactions(peer network.SocketAddr, sealed []byte) (int, error) {
	return n.reactor.ReceiveTransactions(peer, sealed)
}

// SetBroadcaster connects the relay to a transport.
func (n *Node) SetBroadcaster(b mempool.Broadcaster) {
	n.reactor.SetBroadcaster(b)
}

// Miner returns the miner.
func (n *Node) Miner() *miner.Miner {
	return n.miner
}

// RoutingTable returns the routing table.
func (n *Node) RoutingTable() *network.RoutingTable {
	return n.routing
}

// Gatherer returns the metrics registry.
func (n *Node) Gatherer() prometheus.Gatherer {
	return n.registry
}
