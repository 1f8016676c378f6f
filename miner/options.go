package miner

import (
	"time"

	"github.com/ahwlsqja/chaincore/mempool"
)

// Options configures the behaviour of the miner. It is not modified after New.
type Options struct {
	// 아무도 요청하지 않아도 빈 블록을 봉인
	ForceSealing bool
	// 새 트랜잭션 수신 시 재봉인
	ResealOnExternalTransaction bool
	ResealOnOwnTransaction      bool
	// 트랜잭션으로 인한 재봉인 사이 최소 간격
	ResealMinPeriod time.Duration
	// 블록 사이 최대 간격 (지나면 빈 블록도 봉인)
	ResealMaxPeriod time.Duration
	NoResealTimer   bool

	MemPoolSize int
	// 0 이면 무제한
	MemPoolMemoryLimit  int
	MemPoolFeeBumpShift uint
	AllowCreateShard    bool
	MemPoolFees         mempool.Fees
}

// DefaultOptions returns the default miner options.
func DefaultOptions() *Options {
	pool := mempool.DefaultConfig()
	return &Options{
		ResealOnExternalTransaction: true,
		ResealOnOwnTransaction:      true,
		ResealMinPeriod:             2 * time.Second,
		ResealMaxPeriod:             120 * time.Second,
		MemPoolSize:                 pool.Limit,
		MemPoolMemoryLimit:          pool.MemoryLimit,
		MemPoolFeeBumpShift:         pool.FeeBumpShift,
	}
}

func (o *Options) poolConfig() *mempool.Config {
	cfg := mempool.DefaultConfig()
	cfg.Limit = o.MemPoolSize
	cfg.MemoryLimit = o.MemPoolMemoryLimit
	cfg.FeeBumpShift = o.MemPoolFeeBumpShift
	cfg.Fees = o.MemPoolFees
	return cfg
}
