package config

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `{
  "chain_id": 10,
  "pool": {
    "address": "0x00000000000000000000000000000000000a11ce",
    "base_token": "0x000000000000000000000000000000000000ba5e",
    "decimals": 6
  },
  "tokens": [{"address": "0x000000000000000000000000000000000000ba5e", "price": "1"}],
  "peers": {"1": "http://pool-1:8545", "10": "http://pool-10:8545"},
  "network": {"delay_enabled": true, "min_delay_ms": 5, "max_delay_ms": 10}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig), nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(10), cfg.ChainID)
	assert.Equal(t, uint8(6), cfg.Pool.Decimals)
	assert.Len(t, cfg.Tokens, 1)
	assert.True(t, cfg.Network.DelayEnabled)
	assert.Equal(t, 10, cfg.Network.MaxDelayMs)
	assert.Equal(t, "http://relayer:8090", cfg.RelayerURL, "default relayer url")

	url, ok := cfg.PeerURL(1)
	require.True(t, ok)
	assert.Equal(t, "http://pool-1:8545", url)
	_, ok = cfg.PeerURL(42)
	assert.False(t, ok)

	chains := cfg.PeerChains()
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })
	assert.Equal(t, []uint64{1, 10}, chains)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("NAVPOOL_CHAIN_ID", "137")
	t.Setenv("NAVPOOL_RELAYER_URL", "http://elsewhere:1")

	cfg, err := Load(writeConfig(t, testConfig), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(137), cfg.ChainID)
	assert.Equal(t, "http://elsewhere:1", cfg.RelayerURL)
}

func TestLoad_FlagOverride(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Uint64("chain-id", 0, "")
	fs.String("storage-dir", "", "")
	require.NoError(t, fs.Parse([]string{"--chain-id=5"}))

	cfg, err := Load(writeConfig(t, testConfig), fs)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cfg.ChainID)
	assert.Equal(t, "", cfg.StorageDir, "unset flags must not override")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := Load(writeConfig(t, `{"chain_id": 1, "pool": {"base_token": "0x01"}}`), nil)
	assert.ErrorContains(t, err, "pool.address")

	_, err = Load(writeConfig(t, `{"chain_id": 1, "pool": {"address": "0x01", "base_token": "0x02"}, "peers": {"abc": "x"}}`), nil)
	assert.ErrorContains(t, err, "not a chain id")
}
