package node

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/devchain"
	"github.com/ahwlsqja/chaincore/mempool"
	"github.com/ahwlsqja/chaincore/network"
	"github.com/ahwlsqja/chaincore/types"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	cfg.MetricsEnabled = false
	cfg.LogLevel = "none"
	return cfg
}

func newKey(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func payTx(t *testing.T, kp *crypto.KeyPair, seq uint64) *types.SignedTransaction {
	t.Helper()
	receiver := crypto.Address{0xbb}
	tx, err := types.SignTransaction(types.Transaction{
		Seq:       seq,
		Fee:       10,
		NetworkID: "tc",
		Action:    types.Action{Type: types.ActionPay, Receiver: &receiver, Quantity: 1},
	}, kp)
	require.NoError(t, err)
	return tx
}

// startNode builds a dev chain funding kp and a node on top of it.
func startNode(t *testing.T, cfg *Config, kp *crypto.KeyPair) (*Node, *devchain.Chain) {
	t.Helper()
	genesis := devchain.DefaultGenesis(map[crypto.Address]uint64{kp.Address(): 1_000_000})
	chain := devchain.NewChain(genesis)
	keys := devchain.NewKeyStore()
	keys.Insert(kp, "")

	n, err := New(cfg, chain, devchain.NewSolo(genesis.Params), keys, nil)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	return n, chain
}

func TestNodeSealsSubmittedTransaction(t *testing.T) {
	kp := newKey(t)
	n, chain := startNode(t, testConfig(), kp)
	defer func() { require.NoError(t, n.Stop()) }()

	status, err := n.SubmitTransaction(payTx(t, kp, 0))
	require.NoError(t, err)
	require.Equal(t, mempool.Pending, status)

	require.Eventually(t, func() bool { return chain.ChainInfo().BestBlockNumber == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(1), chain.LatestSeq(kp.Address()))
	require.Equal(t, 0, n.Miner().Status().Pending)
}

func TestNodeStartStop(t *testing.T) {
	n, _ := startNode(t, testConfig(), newKey(t))
	require.ErrorIs(t, n.Start(), ErrAlreadyRunning)
	require.NoError(t, n.Stop())
	require.NoError(t, n.Stop())
	require.ErrorIs(t, n.Start(), ErrAlreadyRunning)
}

func TestNodeInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Mining.ResealOnTxs = "never"
	genesis := devchain.DefaultGenesis(nil)
	_, err := New(cfg, devchain.NewChain(genesis), devchain.NewSolo(genesis.Params), nil, nil)
	require.ErrorIs(t, err, ErrInvalidResealOnTxs)
}

func TestNodeRecoversPoolAfterRestart(t *testing.T) {
	kp := newKey(t)
	cfg := testConfig()
	cfg.DataDir = t.TempDir()
	cfg.Mining.ResealOnTxs = "none"
	cfg.Mining.NoResealTimer = true

	first, _ := startNode(t, cfg, kp)
	_, err := first.SubmitTransaction(payTx(t, kp, 0))
	require.NoError(t, err)
	_, err = first.SubmitTransaction(payTx(t, kp, 2))
	require.NoError(t, err)
	require.Equal(t, 1, first.Miner().Status().Pending)
	require.Equal(t, 1, first.Miner().Status().Future)
	require.NoError(t, first.Stop())

	second, _ := startNode(t, cfg, kp)
	defer func() { require.NoError(t, second.Stop()) }()
	status := second.Miner().Status()
	require.Equal(t, 1, status.Pending)
	require.Equal(t, 1, status.Future)
}

func TestNodeReplaysBlocksAfterRestart(t *testing.T) {
	kp := newKey(t)
	cfg := testConfig()
	cfg.DataDir = t.TempDir()
	cfg.Mining.NoResealTimer = true

	first, chain := startNode(t, cfg, kp)
	_, err := first.SubmitTransaction(payTx(t, kp, 0))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return chain.ChainInfo().BestBlockNumber == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, first.Stop())

	second, chain := startNode(t, cfg, kp)
	defer func() { require.NoError(t, second.Stop()) }()
	require.Equal(t, uint64(1), chain.ChainInfo().BestBlockNumber)
	require.Equal(t, uint64(1), chain.LatestSeq(kp.Address()))
	require.Equal(t, 0, second.Miner().Status().Pending)
}

func TestNodeBootstrapAddresses(t *testing.T) {
	cfg := testConfig()
	cfg.Network.BootstrapAddresses = []string{"10.0.0.1:3485", "10.0.0.2:3485"}

	n, _ := startNode(t, cfg, newKey(t))
	defer func() { require.NoError(t, n.Stop()) }()

	require.ElementsMatch(t, []network.SocketAddr{
		network.MustParseSocketAddr("10.0.0.1:3485"),
		network.MustParseSocketAddr("10.0.0.2:3485"),
	}, n.RoutingTable().Candidates())
}

func TestNodeAuthorFromConfig(t *testing.T) {
	kp := newKey(t)
	cfg := testConfig()
	cfg.Mining.Author = kp.Address().String()
	cfg.Mining.ExtraData = "node"

	n, _ := startNode(t, cfg, kp)
	defer func() { require.NoError(t, n.Stop()) }()

	params := n.Miner().AuthoringParams()
	require.Equal(t, kp.Address(), params.Author)
	require.Equal(t, []byte("node"), params.ExtraData)
}

func TestNodeMetrics(t *testing.T) {
	kp := newKey(t)
	cfg := testConfig()
	cfg.Mining.ResealOnTxs = "none"
	cfg.MetricsEnabled = true
	cfg.MetricsAddr = "127.0.0.1:0"

	genesis := devchain.DefaultGenesis(map[crypto.Address]uint64{kp.Address(): 1_000_000})
	chain := devchain.NewChain(genesis)
	n, err := New(cfg, chain, devchain.NewSolo(genesis.Params), nil, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, n.Stop()) }()

	_, err = n.SubmitTransaction(payTx(t, kp, 0))
	require.NoError(t, err)

	families, err := n.Gatherer().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		require.True(t, strings.HasPrefix(f.GetName(), "chaincore_"))
		names[f.GetName()] = true
	}
	require.True(t, names["chaincore_mempool_pending"])
	require.True(t, names["chaincore_miner_imported_transactions_total"])
}
