package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/chaincore/node"
)

func TestLoadOrCreateDevKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := loadOrCreateDevKey(dir)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, devKeyFile))

	// 같은 data_dir 이면 같은 키
	second, err := loadOrCreateDevKey(dir)
	require.NoError(t, err)
	require.Equal(t, first.Address(), second.Address())

	require.NoError(t, os.WriteFile(filepath.Join(dir, devKeyFile), []byte("not hex"), 0o600))
	_, err = loadOrCreateDevKey(dir)
	require.Error(t, err)
}

func TestLoadOrCreateDevKeyWithoutDataDir(t *testing.T) {
	a, err := loadOrCreateDevKey("")
	require.NoError(t, err)
	b, err := loadOrCreateDevKey("")
	require.NoError(t, err)
	require.NotEqual(t, a.Address(), b.Address())
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = \"error\"\n[mining]\nreseal_on_txs = \"own\"\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "--config", path})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		configPath = ""
	}()
	require.NoError(t, rootCmd.Execute())

	var cfg node.Config
	require.NoError(t, json.Unmarshal(out.Bytes(), &cfg))
	require.Equal(t, "error", cfg.LogLevel)
	require.Equal(t, "own", cfg.Mining.ResealOnTxs)
}
