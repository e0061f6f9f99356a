package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/sharding-experiment/navpool/config"
	"github.com/sharding-experiment/navpool/internal/bridge"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/network"
	"github.com/sharding-experiment/navpool/internal/node"
	"github.com/spf13/pflag"
)

const relayerTimeout = 10 * time.Second

func main() {
	fs := pflag.NewFlagSet("poolnode", pflag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "Path to config.json")
	port := fs.Int("port", 8545, "HTTP port")
	fs.Uint64("chain-id", 0, "Chain ID (overrides config)")
	fs.String("storage-dir", "", "Directory for persistent state (empty = in-memory)")
	fs.String("relayer", "", "Relayer URL (overrides config)")
	fs.Int("block-time", 0, "Block time in ms (0 = one block per transaction)")
	fs.Parse(os.Args[1:])

	if envPort := os.Getenv("PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			*port = p
		}
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var st *chainstate.State
	if cfg.StorageDir != "" {
		st, err = chainstate.NewPersistentState(cfg.StorageDir, cfg.ChainID)
	} else {
		st, err = chainstate.NewMemoryState(cfg.ChainID)
	}
	if err != nil {
		log.Fatalf("Failed to open chain %d state: %v", cfg.ChainID, err)
	}
	defer st.Close()

	if cfg.Network.DelayEnabled {
		log.Printf("Network delay simulation enabled: %d-%dms", cfg.Network.MinDelayMs, cfg.Network.MaxDelayMs)
	}
	transport := bridge.NewHTTPTransport(network.NewHTTPClient(cfg.Network, relayerTimeout), cfg.RelayerURL)

	server, err := node.NewServer(cfg, st, transport)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}
	defer server.Close()

	log.Fatal(server.Start(*port))
}
