package miner

import (
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/libs/service"

	"github.com/ahwlsqja/chaincore/mempool"
	"github.com/ahwlsqja/chaincore/types"
)

/*
================================================================================
                              재봉인 타이머
================================================================================

  SetMinTimer() ──► ResealMinPeriod 후 1회
                      pending 트랜잭션이 있으면 UpdateSealing(allowEmpty=false)

  강제 봉인 기한 (마지막 봉인 + ResealMaxPeriod) 에 맞춰 다시 설정
                      기한이 지났으면 UpdateSealing(allowEmpty=true)

================================================================================
*/

// ResealTimer triggers UpdateSealing on behalf of the chain.
type ResealTimer struct {
	service.BaseService

	miner *Miner
	chain Chain

	armCh chan struct{}
}

// NewResealTimer creates a timer driving miner against chain.
func NewResealTimer(m *Miner, chain Chain, logger log.Logger) *ResealTimer {
	t := &ResealTimer{
		miner: m,
		chain: chain,
		armCh: make(chan struct{}, 1),
	}
	t.BaseService = *service.NewBaseService(logger, "ResealTimer", t)
	return t
}

// OnStart implements service.Service.
func (t *ResealTimer) OnStart() error {
	go t.loop()
	return nil
}

// OnStop implements service.Service.
func (t *ResealTimer) OnStop() {}

// SetMinTimer schedules a reseal after the minimum reseal period. Repeated calls before it
// fires are coalesced.
func (t *ResealTimer) SetMinTimer() {
	select {
	case t.armCh <- struct{}{}:
	default:
	}
}

func (t *ResealTimer) loop() {
	options := t.miner.Options()
	retry := options.ResealMinPeriod
	if retry <= 0 {
		retry = options.ResealMaxPeriod
	}
	if retry <= 0 {
		retry = DefaultOptions().ResealMaxPeriod
	}

	// 강제 봉인 기한 직후에 깨어남 (기한은 '이후'여야 지난 것으로 봄)
	untilMandatory := func() time.Duration {
		if options.ResealMaxPeriod <= 0 {
			return DefaultOptions().ResealMaxPeriod
		}
		d := t.miner.UntilMandatoryReseal()
		if d < 0 {
			d = 0
		}
		return d + time.Millisecond
	}
	mandatory := time.NewTimer(untilMandatory())
	defer mandatory.Stop()

	var minTimer *time.Timer
	var minC <-chan time.Time
	defer func() {
		if minTimer != nil {
			minTimer.Stop()
		}
	}()

	for {
		select {
		case <-t.Quit():
			return

		case <-t.armCh:
			if minC == nil {
				minTimer = time.NewTimer(options.ResealMinPeriod)
				minC = minTimer.C
			}

		case <-minC:
			minC = nil
			if !t.miner.EngineType().IgnoreResealOnTransaction() &&
				t.miner.CountPendingTransactions(mempool.FullRange) > 0 {
				t.miner.UpdateSealing(t.chain, types.LatestBlock, false)
			}

		case <-mandatory.C:
			if t.miner.engine.SealsInternally() && t.miner.MandatoryResealDue() {
				t.Logger.Debug("Mandatory reseal")
				t.miner.UpdateSealing(t.chain, types.LatestBlock, true)
			}
			// 봉인에 실패해 기한이 그대로면 retry 후 다시 시도
			if t.miner.MandatoryResealDue() {
				mandatory.Reset(retry)
			} else {
				mandatory.Reset(untilMandatory())
			}
		}
	}
}
