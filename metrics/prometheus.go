// Package metrics provides Prometheus metrics for the mempool, miner and routing table.
package metrics

import (
	"errors"
	"net/http"
	"time"

	cmtsync "github.com/cometbft/cometbft/libs/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the node components report to.
type Recorder interface {
	// Pool
	SetPoolStatus(pending, future, bytes int)
	AddEvicted(count int)

	// Miner
	AddImported(origin string, count int)
	IncRejected(reason string)
	SetQuarantined(count int)
	IncSealedBlocks()
	IncSkippedBlocks(reason string)
	ObserveBlockPreparation(d time.Duration, txs int)

	// Routing table
	IncHandshakes(role string)
	SetRoutingTable(established, banned int)
}

// Metrics holds all Prometheus metrics for a node.
type Metrics struct {
	// Pool metrics
	poolPending  prometheus.Gauge   // current 버킷 크기
	poolFuture   prometheus.Gauge   // future 버킷 크기
	poolBytes    prometheus.Gauge   // 풀 전체 바이트
	evictedTotal prometheus.Counter // 용량 초과로 퇴출된 수

	// Miner metrics
	importedTotal   *prometheus.CounterVec // origin 별 임포트 수
	rejectedTotal   *prometheus.CounterVec // 사유별 거부 수
	quarantined     prometheus.Gauge       // 격리된 서명자 수
	sealedTotal     prometheus.Counter     // 봉인된 블록 수
	skippedTotal    *prometheus.CounterVec // 사유별 건너뛴 봉인
	prepareDuration prometheus.Histogram   // 블록 준비 시간
	blockTxs        prometheus.Histogram   // 블록당 트랜잭션 수

	// Routing table metrics
	handshakesTotal *prometheus.CounterVec // 역할별 완료된 핸드셰이크
	established     prometheus.Gauge
	banned          prometheus.Gauge

	// TPS tracking
	mu            cmtsync.Mutex
	tps           prometheus.Gauge
	txCount       int64
	lastTpsUpdate time.Time
}

// NewMetrics creates the metrics and registers them on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{lastTpsUpdate: time.Now()}

	// Pool metrics
	m.poolPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mempool",
		Name:      "pending",
		Help:      "Number of transactions in the current bucket",
	})

	m.poolFuture = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mempool",
		Name:      "future",
		Help:      "Number of transactions in the future bucket",
	})

	m.poolBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mempool",
		Name:      "bytes",
		Help:      "Total encoded size of pooled transactions",
	})

	m.evictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mempool",
		Name:      "evicted_total",
		Help:      "Total number of transactions evicted to respect the pool limits",
	})

	// Miner metrics
	m.importedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "imported_transactions_total",
		Help:      "Total number of imported transactions by origin",
	}, []string{"origin"})

	m.rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "rejected_transactions_total",
		Help:      "Total number of rejected transactions by reason",
	}, []string{"reason"})

	m.quarantined = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "malicious_users",
		Help:      "Number of quarantined signers",
	})

	m.sealedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "sealed_blocks_total",
		Help:      "Total number of blocks sealed and imported",
	})

	m.skippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "skipped_seals_total",
		Help:      "Total number of sealing attempts that produced no block, by reason",
	}, []string{"reason"})

	m.prepareDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "block_preparation_seconds",
		Help:      "Time to prepare a block in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	m.blockTxs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "block_transactions",
		Help:      "Number of transactions per prepared block",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	m.tps = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "miner",
		Name:      "tps",
		Help:      "Transactions per second included in prepared blocks",
	})

	// Routing table metrics
	m.handshakesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "routing",
		Name:      "handshakes_total",
		Help:      "Total number of completed key exchanges by role",
	}, []string{"role"})

	m.established = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "routing",
		Name:      "established_peers",
		Help:      "Number of peers with an established session",
	})

	m.banned = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "routing",
		Name:      "banned_peers",
		Help:      "Number of banned peers",
	})

	collectors := []prometheus.Collector{
		m.poolPending,
		m.poolFuture,
		m.poolBytes,
		m.evictedTotal,
		m.importedTotal,
		m.rejectedTotal,
		m.quarantined,
		m.sealedTotal,
		m.skippedTotal,
		m.prepareDuration,
		m.blockTxs,
		m.tps,
		m.handshakesTotal,
		m.established,
		m.banned,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// SetPoolStatus sets the pool size gauges.
func (m *Metrics) SetPoolStatus(pending, future, bytes int) {
	m.poolPending.Set(float64(pending))
	m.poolFuture.Set(float64(future))
	m.poolBytes.Set(float64(bytes))
}

// AddEvicted adds to the eviction counter.
func (m *Metrics) AddEvicted(count int) {
	m.evictedTotal.Add(float64(count))
}

// AddImported adds to the import counter of origin.
func (m *Metrics) AddImported(origin string, count int) {
	m.importedTotal.WithLabelValues(origin).Add(float64(count))
}

// IncRejected increments the rejection counter of reason.
func (m *Metrics) IncRejected(reason string) {
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

// SetQuarantined sets the number of quarantined signers.
func (m *Metrics) SetQuarantined(count int) {
	m.quarantined.Set(float64(count))
}

// IncSealedBlocks increments the sealed block counter.
func (m *Metrics) IncSealedBlocks() {
	m.sealedTotal.Inc()
}

// IncSkippedBlocks increments the skipped seal counter of reason.
func (m *Metrics) IncSkippedBlocks(reason string) {
	m.skippedTotal.WithLabelValues(reason).Inc()
}

// ObserveBlockPreparation records a block preparation and updates TPS.
func (m *Metrics) ObserveBlockPreparation(d time.Duration, txs int) {
	m.prepareDuration.Observe(d.Seconds())
	m.blockTxs.Observe(float64(txs))

	m.mu.Lock()
	m.txCount += int64(txs)
	elapsed := time.Since(m.lastTpsUpdate).Seconds()
	if elapsed >= 1.0 {
		m.tps.Set(float64(m.txCount) / elapsed)
		m.txCount = 0
		m.lastTpsUpdate = time.Now()
	}
	m.mu.Unlock()
}

// IncHandshakes increments the handshake counter of role.
func (m *Metrics) IncHandshakes(role string) {
	m.handshakesTotal.WithLabelValues(role).Inc()
}

// SetRoutingTable sets the routing table gauges.
func (m *Metrics) SetRoutingTable(established, banned int) {
	m.established.Set(float64(established))
	m.banned.Set(float64(banned))
}

// Server provides 프로메테우스 매트릭을 위한 HTTP 서버를 제공
type Server struct {
	addr   string
	server *http.Server
}

// NewServer creates a new metrics HTTP server exposing gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start starts the metrics server. Listen errors are sent to errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
}

// Stop stops the metrics server.
func (s *Server) Stop() error {
	return s.server.Close()
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// NullMetrics is a no-op Recorder for tests and disabled metrics.
type NullMetrics struct{}

var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NullMetrics{}
)

func (NullMetrics) SetPoolStatus(pending, future, bytes int)         {}
func (NullMetrics) AddEvicted(count int)                             {}
func (NullMetrics) AddImported(origin string, count int)             {}
func (NullMetrics) IncRejected(reason string)                        {}
func (NullMetrics) SetQuarantined(count int)                         {}
func (NullMetrics) IncSealedBlocks()                                 {}
func (NullMetrics) IncSkippedBlocks(reason string)                   {}
func (NullMetrics) ObserveBlockPreparation(d time.Duration, txs int) {}
func (NullMetrics) IncHandshakes(role string)                        {}
func (NullMetrics) SetRoutingTable(established, banned int)          {}
