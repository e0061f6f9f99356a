// Package node serves one pool chain over HTTP: account and pool operations,
// the outbound side of cross-chain transfers and the bridge fill and refund
// endpoints the relayer calls.
package node

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sharding-experiment/navpool/config"
	"github.com/sharding-experiment/navpool/internal/bridge"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/crosschain"
	"github.com/sharding-experiment/navpool/internal/nav"
	"github.com/sharding-experiment/navpool/internal/pool"
	"github.com/sharding-experiment/navpool/internal/protocol"
)

// Server handles HTTP requests for a pool chain node
type Server struct {
	chainID                 uint64
	cfg                     *config.Config
	state                   *chainstate.State
	pool                    *pool.Pool
	handler                 *crosschain.Handler
	initiator               *crosschain.Initiator
	executor                *bridge.Executor
	spoke                   *bridge.SpokePool
	chain                   *Chain
	receipts                *ReceiptStore
	router                  *mux.Router
	blockProductionInterval time.Duration
	sealMu                  sync.Mutex
	done                    chan struct{} // Signal channel for graceful shutdown
	closeOnce               sync.Once     // Ensures Close() is idempotent
}

// NewServer wires a pool node over state. With a zero block time every
// transaction is sealed into its own block; otherwise a producer seals
// periodically until Close.
func NewServer(cfg *config.Config, state *chainstate.State, transport bridge.Transport) (*Server, error) {
	if state.ChainID() != cfg.ChainID {
		return nil, fmt.Errorf("state is for chain %d, config for chain %d", state.ChainID(), cfg.ChainID)
	}
	params, err := pool.ParamsFromConfig(cfg.Pool)
	if err != nil {
		return nil, err
	}
	oracle, err := nav.NewPriceOracleFromConfig(cfg.Tokens)
	if err != nil {
		return nil, err
	}
	if !oracle.HasPriceFeed(params.BaseToken) {
		return nil, fmt.Errorf("base token %s has no price", params.BaseToken.Hex())
	}
	handlerAddr := common.HexToAddress(cfg.Pool.MulticallHandler)
	spokeAddr := common.HexToAddress(cfg.Pool.SpokePool)

	var destinations []uint64
	for _, id := range cfg.PeerChains() {
		if id != cfg.ChainID {
			destinations = append(destinations, id)
		}
	}

	p := pool.New(state, params, oracle)
	spoke := bridge.NewSpokePool(state, spokeAddr)
	s := &Server{
		chainID:                 cfg.ChainID,
		cfg:                     cfg,
		state:                   state,
		pool:                    p,
		handler:                 crosschain.NewHandler(p),
		initiator:               crosschain.NewInitiator(p, spoke, transport, handlerAddr, destinations),
		executor:                bridge.NewExecutor(state, handlerAddr),
		spoke:                   spoke,
		chain:                   NewChain(cfg.ChainID, state.StateRoot()),
		receipts:                NewReceiptStore(),
		router:                  mux.NewRouter(),
		blockProductionInterval: time.Duration(cfg.BlockTimeMs) * time.Millisecond,
		done:                    make(chan struct{}),
	}
	s.executor.Register(params.Address, s.handler)
	s.setupRoutes()

	if s.blockProductionInterval > 0 {
		go s.blockProducer()
	}
	return s, nil
}

// Router returns the HTTP router for testing
func (s *Server) Router() *mux.Router {
	return s.router
}

// Pool returns the pool served by this node
func (s *Server) Pool() *pool.Pool {
	return s.pool
}

func (s *Server) setupRoutes() {
	// Account endpoints
	s.router.HandleFunc("/balance/{token}/{holder}", s.handleGetBalance).Methods("GET")
	s.router.HandleFunc("/faucet", s.handleFaucet).Methods("POST")

	// Pool endpoints
	s.router.HandleFunc("/nav", s.handleNav).Methods("GET")
	s.router.HandleFunc("/ledger", s.handleLedger).Methods("GET")
	s.router.HandleFunc("/mint", s.handleMint).Methods("POST")
	s.router.HandleFunc("/burn", s.handleBurn).Methods("POST")

	// Cross-chain endpoints
	s.router.HandleFunc("/crosschain/transfer", s.handleCrossChainTransfer).Methods("POST")
	s.router.HandleFunc("/escrow/{opType}", s.handleGetEscrow).Methods("GET")
	s.router.HandleFunc("/escrow/claim", s.handleClaimEscrow).Methods("POST")

	// Bridge endpoints (called by the relayer)
	s.router.HandleFunc("/bridge/fill", s.handleFill).Methods("POST")
	s.router.HandleFunc("/bridge/refund", s.handleRefund).Methods("POST")

	// Chain
	s.router.HandleFunc("/block/latest", s.handleLatestBlock).Methods("GET")
	s.router.HandleFunc("/receipt/{txID}", s.handleGetReceipt).Methods("GET")

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// JSON-RPC for Ethereum tooling
	s.router.HandleFunc("/", s.handleJSONRPC).Methods("POST")
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("Chain %d node starting on %s", s.chainID, addr)
	return http.ListenAndServe(addr, s.router)
}

// Close stops the block producer. It is idempotent; the chain state is left
// to its owner.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// blockProducer seals blocks periodically
func (s *Server) blockProducer() {
	ticker := time.NewTicker(s.blockProductionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			log.Printf("Chain %d: Block producer stopping", s.chainID)
			return
		case <-ticker.C:
			if s.chain.Pending() == 0 {
				continue
			}
			if _, err := s.ProduceBlock(); err != nil {
				log.Printf("Chain %d: Failed to produce block: %v", s.chainID, err)
			}
		}
	}
}

// ProduceBlock commits the state and seals the pending transactions
func (s *Server) ProduceBlock() (*protocol.PoolBlock, error) {
	s.sealMu.Lock()
	defer s.sealMu.Unlock()

	root, err := s.state.Commit(s.chain.Height() + 1)
	if err != nil {
		return nil, err
	}
	block := s.chain.ProduceBlock(root)
	s.receipts.SetBlock(block.Height, block.TxIDs)
	log.Printf("Chain %d: Produced block %d with %d txs", s.chainID, block.Height, len(block.TxIDs))
	return block, nil
}

// execute applies fn as one transaction, records its receipt and, with
// instant sealing, puts it in a block.
func (s *Server) execute(kind string, fn func() error) (string, error) {
	txID := uuid.New().String()
	res, err := s.state.Execute(txID, fn)

	receipt := &Receipt{TxID: txID, TxHash: crypto.Keccak256Hash([]byte(txID)), Kind: kind, Status: ReceiptStatusSuccess}
	if err != nil {
		receipt.Status = ReceiptStatusFailed
		receipt.Error = err.Error()
		s.receipts.AddReceipt(receipt)
		return txID, err
	}
	receipt.Logs = res.Logs
	s.receipts.AddReceipt(receipt)
	s.chain.AddTx(txID)

	if s.blockProductionInterval == 0 {
		if _, err := s.ProduceBlock(); err != nil {
			log.Printf("Chain %d: Failed to seal tx %s: %v", s.chainID, txID, err)
		}
	}
	return txID, nil
}

// view runs fn under the chain state lock
func (s *Server) view(fn func()) {
	s.state.View(fn)
}
