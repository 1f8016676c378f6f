package mempool

import (
	"github.com/google/btree"
)

const btreeDegree = 16

// 서명자별 큐: seq 오름차순
func newSignerQueue() *btree.BTreeG[*PoolingTransaction] {
	return btree.NewG(btreeDegree, func(a, b *PoolingTransaction) bool {
		return a.Seq < b.Seq
	})
}

// current 버킷: Min() 이 가장 먼저 퇴출될 트랜잭션
func newEvictionIndex() *btree.BTreeG[*PoolingTransaction] {
	return btree.NewG(btreeDegree, lowerPriority)
}

// signerChain walks one signer's current transactions in seq order.
type signerChain struct {
	txs  []*PoolingTransaction
	next int
}

func (c *signerChain) head() *PoolingTransaction {
	return c.txs[c.next]
}

// chainHeap is a max-heap of signer chains keyed by the priority of each chain's head.
type chainHeap []*signerChain

func (h chainHeap) Len() int { return len(h) }

func (h chainHeap) Less(i, j int) bool {
	return betterForBlock(h[i].head(), h[j].head())
}

func (h chainHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *chainHeap) Push(x any) {
	*h = append(*h, x.(*signerChain))
}

func (h *chainHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
