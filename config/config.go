package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (NAVPOOL_CHAIN_ID, ...).
const EnvPrefix = "NAVPOOL"

// DefaultPath is where binaries look for the config when none is given.
const DefaultPath = "config/config.json"

// Config holds all configurable parameters for a pool chain node and the relayer
type Config struct {
	ChainID     uint64            `mapstructure:"chain_id" json:"chain_id"`
	Pool        PoolConfig        `mapstructure:"pool" json:"pool"`
	Tokens      []TokenConfig     `mapstructure:"tokens" json:"tokens"`
	Peers       map[string]string `mapstructure:"peers" json:"peers"` // chain id -> node URL
	RelayerURL  string            `mapstructure:"relayer_url" json:"relayer_url"`
	StorageDir  string            `mapstructure:"storage_dir" json:"storage_dir"`
	BlockTimeMs int               `mapstructure:"block_time_ms" json:"block_time_ms"`
	Network     NetworkConfig     `mapstructure:"network" json:"network"`
}

// PoolConfig describes the pool deployed on this chain.
// The pool address is the pool identity and is the same on every chain.
type PoolConfig struct {
	Address          string `mapstructure:"address" json:"address"`
	BaseToken        string `mapstructure:"base_token" json:"base_token"`
	Decimals         uint8  `mapstructure:"decimals" json:"decimals"`
	WrappedNative    string `mapstructure:"wrapped_native" json:"wrapped_native"`
	MulticallHandler string `mapstructure:"multicall_handler" json:"multicall_handler"`
	SpokePool        string `mapstructure:"spoke_pool" json:"spoke_pool"`
}

// TokenConfig is one entry of the price table. Price is a decimal string giving
// the base-asset smallest units worth one smallest unit of the token.
type TokenConfig struct {
	Address string `mapstructure:"address" json:"address"`
	Price   string `mapstructure:"price" json:"price"`
}

// NetworkConfig holds network-level configuration for HTTP clients
type NetworkConfig struct {
	DelayEnabled bool `mapstructure:"delay_enabled" json:"delay_enabled"`
	MinDelayMs   int  `mapstructure:"min_delay_ms" json:"min_delay_ms"`
	MaxDelayMs   int  `mapstructure:"max_delay_ms" json:"max_delay_ms"`
}

// Well-known bridge accounts, identical on every chain.
const (
	DefaultMulticallHandler = "0x000000000000000000000000000000000000ca11"
	DefaultSpokePool        = "0x0000000000000000000000000000000000005b0e"
)

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"chain-id":    "chain_id",
	"storage-dir": "storage_dir",
	"relayer":     "relayer_url",
	"block-time":  "block_time_ms",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chain_id", 1)
	v.SetDefault("pool.decimals", 6)
	v.SetDefault("pool.multicall_handler", DefaultMulticallHandler)
	v.SetDefault("pool.spoke_pool", DefaultSpokePool)
	v.SetDefault("relayer_url", "http://relayer:8090")
	v.SetDefault("storage_dir", "")
	v.SetDefault("block_time_ms", 0)
	v.SetDefault("network.delay_enabled", false)
	v.SetDefault("network.min_delay_ms", 0)
	v.SetDefault("network.max_delay_ms", 0)
}

// Load reads the config file at configPath, applies NAVPOOL_* environment
// overrides and, when flags is non-nil, any explicitly set command-line flags.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the default config from config.json in the current directory
func LoadDefault() (*Config, error) {
	return Load(DefaultPath, nil)
}

// Validate checks the fields every binary depends on.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("config: chain_id must be non-zero")
	}
	if c.Pool.Address == "" {
		return fmt.Errorf("config: pool.address is required")
	}
	if c.Pool.BaseToken == "" {
		return fmt.Errorf("config: pool.base_token is required")
	}
	for _, tok := range c.Tokens {
		if tok.Address == "" || tok.Price == "" {
			return fmt.Errorf("config: token entries need address and price")
		}
	}
	for id := range c.Peers {
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			return fmt.Errorf("config: peer key %q is not a chain id", id)
		}
	}
	return nil
}

// PeerURL returns the node URL of another chain running the pool.
func (c *Config) PeerURL(chainID uint64) (string, bool) {
	url, ok := c.Peers[strconv.FormatUint(chainID, 10)]
	return url, ok
}

// PeerChains lists the chain ids of all configured peers.
func (c *Config) PeerChains() []uint64 {
	ids := make([]uint64, 0, len(c.Peers))
	for id := range c.Peers {
		if n, err := strconv.ParseUint(id, 10, 64); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}
