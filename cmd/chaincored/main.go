// Package main provides the entry point for the chaincore dev node daemon.
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/spf13/cobra"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/devchain"
	"github.com/ahwlsqja/chaincore/node"
	"github.com/ahwlsqja/chaincore/types"
)

const devKeyFile = "dev.key"

var (
	configPath string
	benchmark  bool
	txCount    int
)

var rootCmd = &cobra.Command{
	Use:           "chaincored",
	Short:         "chaincored runs a single-node dev chain with a transaction pool and miner",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node",
	RunE:  runStart,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := node.LoadConfig(configPath)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (toml, yaml or json)")
	startCmd.Flags().BoolVar(&benchmark, "benchmark", false, "submit dev transactions after start and report TPS")
	startCmd.Flags().IntVar(&txCount, "tx-count", 1000, "number of transactions for benchmark")
	rootCmd.AddCommand(startCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := node.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := log.NewTMLogger(log.NewSyncWriter(os.Stdout))

	devKey, err := loadOrCreateDevKey(cfg.DataDir)
	if err != nil {
		return err
	}
	balances, err := cfg.DevBalances()
	if err != nil {
		return err
	}
	balances[devKey.Address()] = cfg.Dev.Balance

	genesis := devchain.DefaultGenesis(balances)
	chain := devchain.NewChain(genesis)
	chainLogger, err := cfg.NewLogger(logger)
	if err != nil {
		return err
	}
	chain.SetLogger(chainLogger.With("module", "chain"))

	keys := devchain.NewKeyStore()
	keys.Insert(devKey, "")

	// author 가 없으면 dev 키로 봉인
	if cfg.Mining.Author == "" {
		cfg.Mining.Author = devKey.Address().String()
	}

	n, err := node.New(cfg, chain, devchain.NewSolo(genesis.Params), keys, logger)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		n.Stop()
		return err
	}
	logger.Info("Dev account", "address", devKey.Address(), "balance", cfg.Dev.Balance)

	if benchmark {
		go runBenchmark(n, chain, &genesis.Params, devKey, txCount, logger.With("module", "benchmark"))
	}

	// 종료 시그널 대기
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case <-sigCh:
		logger.Info("Shutting down...")
	case runErr = <-n.Errors():
		logger.Error("Node failed", "err", runErr)
	}

	if err := n.Stop(); err != nil {
		return errors.Join(runErr, err)
	}
	logger.Info("Shutdown complete")
	return runErr
}

// loadOrCreateDevKey keeps the dev key next to the data so stored blocks replay against the same genesis.
func loadOrCreateDevKey(dataDir string) (*crypto.KeyPair, error) {
	if dataDir == "" {
		return crypto.GenerateKeyPair()
	}
	path := filepath.Join(dataDir, devKeyFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("invalid dev key %s: %w", path, err)
		}
		return crypto.KeyPairFromBytes(raw)
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(kp.PrivateBytes())), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write dev key: %w", err)
	}
	return kp, nil
}

func runBenchmark(n *node.Node, chain *devchain.Chain, params *types.CommonParams, kp *crypto.KeyPair, txCount int, logger log.Logger) {
	logger.Info("Starting benchmark", "txs", txCount)

	startTime := time.Now()
	startHeight := chain.ChainInfo().BestBlockNumber
	seq := chain.LatestSeq(kp.Address())
	receiver := crypto.Address{0x01}
	fee := max(params.MinFee, n.Miner().Options().MemPoolFees.MinPayCost)

	failed := 0
	for i := 0; i < txCount; i++ {
		tx, err := types.SignTransaction(types.Transaction{
			Seq:       seq + uint64(i),
			Fee:       fee,
			NetworkID: params.NetworkID,
			Action:    types.Action{Type: types.ActionPay, Receiver: &receiver, Quantity: 1},
		}, kp)
		if err == nil {
			_, err = n.SubmitTransaction(tx)
		}
		if err != nil {
			failed++
			logger.Debug("Failed to submit transaction", "seq", seq+uint64(i), "err", err)
		}
	}

	// pool 이 빌 때까지 대기
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) && n.Miner().Status().Pending > 0 {
		time.Sleep(100 * time.Millisecond)
	}

	elapsed := time.Since(startTime)
	logger.Info("Benchmark complete",
		"txs", txCount,
		"failed", failed,
		"elapsed", elapsed,
		"tps", fmt.Sprintf("%.2f", float64(txCount-failed)/elapsed.Seconds()),
		"blocks", chain.ChainInfo().BestBlockNumber-startHeight,
		"pending", n.Miner().Status().Pending,
	)
}
