// Command genesis writes the persistent genesis state of every configured
// chain: funded test accounts and a seeded pool.
package main

import (
	"crypto/sha256"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/config"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/nav"
	"github.com/sharding-experiment/navpool/internal/pool"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("genesis", pflag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "Path to config.json")
	dir := fs.String("dir", "./storage/genesis", "Output directory")
	accounts := fs.Int("accounts", 10, "Number of test accounts per chain")
	funding := fs.Uint64("funding", 1_000_000_000, "Base token units given to each test account")
	poolSeed := fs.Uint64("pool-seed", 100_000_000, "Base token units the first account deposits into the pool")
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	params, err := pool.ParamsFromConfig(cfg.Pool)
	if err != nil {
		log.Fatalf("Invalid pool config: %v", err)
	}
	oracle, err := nav.NewPriceOracleFromConfig(cfg.Tokens)
	if err != nil {
		log.Fatalf("Invalid price table: %v", err)
	}

	addrs := testAccounts(*accounts)
	if err := writeAddresses(filepath.Join(*dir, "address.txt"), addrs); err != nil {
		log.Fatalf("Failed to write addresses: %v", err)
	}

	chains := cfg.PeerChains()
	if len(chains) == 0 {
		chains = []uint64{cfg.ChainID}
	}
	for _, chainID := range chains {
		root, err := createChain(*dir, chainID, params, oracle, addrs, uint256.NewInt(*funding), uint256.NewInt(*poolSeed))
		if err != nil {
			log.Fatalf("Chain %d: %v", chainID, err)
		}
		fmt.Printf("Chain %d genesis root: %s\n", chainID, root.Hex())
	}
}

// testAccounts derives n deterministic addresses
func testAccounts(n int) []common.Address {
	addrs := make([]common.Address, n)
	for i := range addrs {
		hash := sha256.Sum256([]byte(fmt.Sprintf("navpool-test-account-%d", i)))
		addrs[i] = common.BytesToAddress(hash[:])
	}
	return addrs
}

func writeAddresses(path string, addrs []common.Address) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	for _, addr := range addrs {
		if _, err := fmt.Fprintln(file, addr.Hex()); err != nil {
			return err
		}
	}
	return nil
}

func createChain(dir string, chainID uint64, params pool.Params, oracle nav.Oracle, addrs []common.Address, funding, seed *uint256.Int) (common.Hash, error) {
	st, err := chainstate.NewPersistentState(dir, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	defer st.Close()

	p := pool.New(st, params, oracle)
	_, err = st.Execute("genesis", func() error {
		for _, addr := range addrs {
			if err := st.MintToken(params.BaseToken, addr, funding); err != nil {
				return err
			}
			st.AddNative(addr, uint256.NewInt(1e18))
		}
		if len(addrs) == 0 || seed.IsZero() {
			return nil
		}
		_, err := p.Mint(addrs[0], seed)
		return err
	})
	if err != nil {
		return common.Hash{}, err
	}
	return st.Commit(0)
}
