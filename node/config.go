// Package node wires the miner, mempool, routing table and persistence into a running node.
package node

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/ahwlsqja/chaincore/crypto"
	"github.com/ahwlsqja/chaincore/mempool"
	"github.com/ahwlsqja/chaincore/miner"
	"github.com/ahwlsqja/chaincore/network"
)

// Config holds configuration for a node.
type Config struct {
	Mining  MiningConfig  `mapstructure:"mining"`
	Network NetworkConfig `mapstructure:"network"`
	Dev     DevConfig     `mapstructure:"dev"`

	// Prometheus metrics
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr"`

	// Logging: debug | info | error | none
	LogLevel string `mapstructure:"log_level"`

	// Data directory, 비어 있으면 메모리에만 저장
	DataDir string `mapstructure:"data_dir"`
}

// MiningConfig mirrors the [mining] section.
type MiningConfig struct {
	Author    string `mapstructure:"author"` // hex address, 비어 있으면 dev 키
	ExtraData string `mapstructure:"extra_data"`

	MemPoolSize         int  `mapstructure:"mem_pool_size"`
	MemPoolMemLimit     int  `mapstructure:"mem_pool_mem_limit"` // MiB, 0 이면 무제한
	MemPoolFeeBumpShift uint `mapstructure:"mem_pool_fee_bump_shift"`
	AllowCreateShard    bool `mapstructure:"allow_create_shard"`

	// 기간 값은 "2s" 같은 duration 문자열 또는 정수 밀리초
	ForceSealing    bool          `mapstructure:"force_sealing"`
	ResealOnTxs     string        `mapstructure:"reseal_on_txs"` // all | own | ext | none
	ResealMinPeriod time.Duration `mapstructure:"reseal_min_period"`
	ResealMaxPeriod time.Duration `mapstructure:"reseal_max_period"`
	NoResealTimer   bool          `mapstructure:"no_reseal_timer"`

	Fees mempool.Fees `mapstructure:"fees"`
}

// NetworkConfig mirrors the [network] section.
type NetworkConfig struct {
	Address            string   `mapstructure:"address"`
	BootstrapAddresses []string `mapstructure:"bootstrap_addresses"`

	RelayEnabled bool          `mapstructure:"relay_enabled"`
	RelayDelay   time.Duration `mapstructure:"relay_delay"` // duration 문자열 또는 정수 밀리초
	RelayBatch   int           `mapstructure:"relay_batch"`
}

// DevConfig configures the single-node dev chain.
type DevConfig struct {
	// 개발 키에 지급할 잔고
	Balance uint64 `mapstructure:"balance"`
	// 추가 계정 잔고 (hex address → balance)
	Balances map[string]uint64 `mapstructure:"balances"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	options := miner.DefaultOptions()
	relay := mempool.DefaultReactorConfig()
	return &Config{
		Mining: MiningConfig{
			MemPoolSize:         options.MemPoolSize,
			MemPoolMemLimit:     options.MemPoolMemoryLimit / (1024 * 1024),
			MemPoolFeeBumpShift: options.MemPoolFeeBumpShift,
			ResealOnTxs:         "all",
			ResealMinPeriod:     options.ResealMinPeriod,
			ResealMaxPeriod:     options.ResealMaxPeriod,
		},
		Network: NetworkConfig{
			Address:            "127.0.0.1:3485",
			BootstrapAddresses: []string{},
			RelayEnabled:       relay.BroadcastEnabled,
			RelayDelay:         relay.BroadcastDelay,
			RelayBatch:         relay.MaxBroadcastBatch,
		},
		Dev: DevConfig{
			Balance:  1_000_000_000,
			Balances: map[string]uint64{},
		},
		MetricsEnabled: true,
		MetricsAddr:    "0.0.0.0:26660",
		LogLevel:       "info",
		DataDir:        "./data",
	}
}

// LoadConfig reads path (if not empty) over the defaults. Every key can be overridden with a
// CHAINCORE_ environment variable, e.g. CHAINCORE_MINING_RESEAL_ON_TXS.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("CHAINCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := new(Config)
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		millisecondsHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// millisecondsHookFunc decodes bare numbers into a time.Duration as milliseconds.
func millisecondsHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != durationType || f == durationType {
			return data, nil
		}
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Millisecond, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Millisecond, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Millisecond)), nil
		case reflect.String:
			ms, err := strconv.ParseInt(strings.TrimSpace(reflect.ValueOf(data).String()), 10, 64)
			if err != nil {
				// "2s" 같은 문자열은 다음 hook 이 처리
				return data, nil
			}
			return time.Duration(ms) * time.Millisecond, nil
		}
		return data, nil
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("mining.author", cfg.Mining.Author)
	v.SetDefault("mining.extra_data", cfg.Mining.ExtraData)
	v.SetDefault("mining.mem_pool_size", cfg.Mining.MemPoolSize)
	v.SetDefault("mining.mem_pool_mem_limit", cfg.Mining.MemPoolMemLimit)
	v.SetDefault("mining.mem_pool_fee_bump_shift", cfg.Mining.MemPoolFeeBumpShift)
	v.SetDefault("mining.allow_create_shard", cfg.Mining.AllowCreateShard)
	v.SetDefault("mining.force_sealing", cfg.Mining.ForceSealing)
	v.SetDefault("mining.reseal_on_txs", cfg.Mining.ResealOnTxs)
	v.SetDefault("mining.reseal_min_period", cfg.Mining.ResealMinPeriod)
	v.SetDefault("mining.reseal_max_period", cfg.Mining.ResealMaxPeriod)
	v.SetDefault("mining.no_reseal_timer", cfg.Mining.NoResealTimer)

	fees := cfg.Mining.Fees
	v.SetDefault("mining.fees.min_pay_transaction_cost", fees.MinPayCost)
	v.SetDefault("mining.fees.min_set_regular_key_transaction_cost", fees.MinSetRegularKeyCost)
	v.SetDefault("mining.fees.min_create_shard_transaction_cost", fees.MinCreateShardCost)
	v.SetDefault("mining.fees.min_store_transaction_cost", fees.MinStoreCost)
	v.SetDefault("mining.fees.min_remove_transaction_cost", fees.MinRemoveCost)
	v.SetDefault("mining.fees.min_custom_transaction_cost", fees.MinCustomCost)
	v.SetDefault("mining.fees.min_asset_mint_cost", fees.MinAssetMintCost)
	v.SetDefault("mining.fees.min_asset_transfer_cost", fees.MinAssetTransferCost)

	v.SetDefault("network.address", cfg.Network.Address)
	v.SetDefault("network.bootstrap_addresses", cfg.Network.BootstrapAddresses)
	v.SetDefault("network.relay_enabled", cfg.Network.RelayEnabled)
	v.SetDefault("network.relay_delay", cfg.Network.RelayDelay)
	v.SetDefault("network.relay_batch", cfg.Network.RelayBatch)

	v.SetDefault("dev.balance", cfg.Dev.Balance)
	v.SetDefault("dev.balances", cfg.Dev.Balances)

	v.SetDefault("metrics_enabled", cfg.MetricsEnabled)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("data_dir", cfg.DataDir)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := parseResealOnTxs(c.Mining.ResealOnTxs); err != nil {
		return err
	}
	if c.Mining.MemPoolSize <= 0 {
		return ErrInvalidMemPoolSize
	}
	if c.Mining.MemPoolMemLimit < 0 {
		return ErrInvalidMemPoolMemLimit
	}
	if c.Mining.ResealMinPeriod < 0 || c.Mining.ResealMaxPeriod <= 0 {
		return ErrInvalidResealPeriod
	}
	if c.Mining.Author != "" {
		if _, err := crypto.ParseAddress(c.Mining.Author); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAuthor, err)
		}
	}
	if _, err := network.ParseSocketAddr(c.Network.Address); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if _, err := c.BootstrapAddresses(); err != nil {
		return err
	}
	if c.Network.RelayEnabled && (c.Network.RelayDelay <= 0 || c.Network.RelayBatch <= 0) {
		return ErrInvalidRelay
	}
	for addr := range c.Dev.Balances {
		if _, err := crypto.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDevAccount, err)
		}
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.MetricsEnabled && c.MetricsAddr == "" {
		return ErrEmptyMetricsAddr
	}
	return nil
}

// MinerOptions converts the mining section into miner options.
func (c *Config) MinerOptions() (*miner.Options, error) {
	reseal, err := parseResealOnTxs(c.Mining.ResealOnTxs)
	if err != nil {
		return nil, err
	}
	return &miner.Options{
		ForceSealing:                c.Mining.ForceSealing,
		ResealOnOwnTransaction:      reseal.own,
		ResealOnExternalTransaction: reseal.external,
		ResealMinPeriod:             c.Mining.ResealMinPeriod,
		ResealMaxPeriod:             c.Mining.ResealMaxPeriod,
		NoResealTimer:               c.Mining.NoResealTimer,
		MemPoolSize:                 c.Mining.MemPoolSize,
		MemPoolMemoryLimit:          c.Mining.MemPoolMemLimit * 1024 * 1024,
		MemPoolFeeBumpShift:         c.Mining.MemPoolFeeBumpShift,
		AllowCreateShard:            c.Mining.AllowCreateShard,
		MemPoolFees:                 c.Mining.Fees,
	}, nil
}

// ReactorConfig converts the relay settings.
func (c *Config) ReactorConfig() *mempool.ReactorConfig {
	cfg := mempool.DefaultReactorConfig()
	cfg.BroadcastEnabled = c.Network.RelayEnabled
	cfg.BroadcastDelay = c.Network.RelayDelay
	cfg.MaxBroadcastBatch = c.Network.RelayBatch
	return cfg
}

// BootstrapAddresses parses the bootstrap peer addresses.
func (c *Config) BootstrapAddresses() ([]network.SocketAddr, error) {
	addrs := make([]network.SocketAddr, 0, len(c.Network.BootstrapAddresses))
	for _, s := range c.Network.BootstrapAddresses {
		addr, err := network.ParseSocketAddr(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// Author returns the configured author address, if any.
func (c *Config) Author() (crypto.Address, bool, error) {
	if c.Mining.Author == "" {
		return crypto.Address{}, false, nil
	}
	addr, err := crypto.ParseAddress(c.Mining.Author)
	if err != nil {
		return crypto.Address{}, false, fmt.Errorf("%w: %v", ErrInvalidAuthor, err)
	}
	return addr, true, nil
}

// DevBalances parses the extra dev accounts.
func (c *Config) DevBalances() (map[crypto.Address]uint64, error) {
	balances := make(map[crypto.Address]uint64, len(c.Dev.Balances))
	for s, balance := range c.Dev.Balances {
		addr, err := crypto.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDevAccount, err)
		}
		balances[addr] = balance
	}
	return balances, nil
}

type resealOnTxs struct {
	own, external bool
}

func parseResealOnTxs(s string) (resealOnTxs, error) {
	switch s {
	case "all":
		return resealOnTxs{own: true, external: true}, nil
	case "own":
		return resealOnTxs{own: true}, nil
	case "ext":
		return resealOnTxs{external: true}, nil
	case "none":
		return resealOnTxs{}, nil
	}
	return resealOnTxs{}, fmt.Errorf("%w: %q", ErrInvalidResealOnTxs, s)
}

func parseLogLevel(s string) (log.Option, error) {
	switch s {
	case "debug":
		return log.AllowDebug(), nil
	case "info":
		return log.AllowInfo(), nil
	case "error":
		return log.AllowError(), nil
	case "none":
		return log.AllowNone(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
}

// NewLogger returns a logger filtered at the configured level.
func (c *Config) NewLogger(base log.Logger) (log.Logger, error) {
	level, err := parseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return log.NewFilter(base, level), nil
}

// Custom errors
type configError string

func (e configError) Error() string {
	return string(e)
}

const (
	ErrInvalidResealOnTxs     = configError("reseal_on_txs must be one of all, own, ext, none")
	ErrInvalidMemPoolSize     = configError("mem_pool_size must be positive")
	ErrInvalidMemPoolMemLimit = configError("mem_pool_mem_limit must not be negative")
	ErrInvalidResealPeriod    = configError("invalid reseal period")
	ErrInvalidAuthor          = configError("invalid author address")
	ErrInvalidAddress         = configError("invalid socket address")
	ErrInvalidRelay           = configError("relay_delay and relay_batch must be positive")
	ErrInvalidDevAccount      = configError("invalid dev account address")
	ErrInvalidLogLevel        = configError("invalid log level")
	ErrEmptyMetricsAddr       = configError("metrics address is required")
)
