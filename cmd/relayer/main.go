package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/sharding-experiment/navpool/config"
	"github.com/sharding-experiment/navpool/internal/relayer"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("relayer", pflag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "Path to config.json")
	port := fs.Int("port", 8090, "HTTP port")
	interval := fs.Duration("interval", 500*time.Millisecond, "How often queued deposits are delivered")
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
	if cfg.Network.DelayEnabled {
		log.Printf("Network delay simulation enabled: %d-%dms", cfg.Network.MinDelayMs, cfg.Network.MaxDelayMs)
	}

	service := relayer.NewService(cfg, *interval)
	defer service.Close()

	log.Fatal(service.Start(*port))
}
