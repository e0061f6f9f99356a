package chainstate

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/triedb"
)

// ErrClosed is returned once the underlying database has been closed.
var ErrClosed = errors.New("chain state closed")

// State wraps geth's StateDB as the world state of one pool chain.
//
// A chain applies one transaction at a time. Execute is the only way to mutate
// state; View gives a consistent read. Both hold the same mutex, so callers
// inside fn use the unsynchronised accessors directly.
type State struct {
	mu       sync.Mutex
	chainID  uint64
	tdb      *triedb.Database
	db       state.Database
	stateDB  *state.StateDB
	ldb      *leveldb.Database // nil for in-memory state
	rootPath string
	txIndex  int
	closed   bool
}

// Result describes one executed transaction.
type Result struct {
	TxID   string
	TxHash common.Hash
	Logs   []*types.Log
}

// NewMemoryState creates an empty in-memory chain state (for tests and local runs)
func NewMemoryState(chainID uint64) (*State, error) {
	tdb := triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil)
	db := state.NewDatabase(tdb, nil)

	stateDB, err := state.New(types.EmptyRootHash, db)
	if err != nil {
		return nil, err
	}
	return &State{
		chainID: chainID,
		tdb:     tdb,
		db:      db,
		stateDB: stateDB,
	}, nil
}

// NewPersistentState opens (or creates) the LevelDB-backed state of a chain
// under dir. The last committed root is kept in chain<ID>_root.txt.
func NewPersistentState(dir string, chainID uint64) (*State, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	root := types.EmptyRootHash
	rootPath := filepath.Join(dir, fmt.Sprintf("chain%d_root.txt", chainID))
	if data, err := os.ReadFile(rootPath); err == nil {
		rootStr := strings.TrimSpace(string(data))
		if !(len(rootStr) == 66 && (rootStr[:2] == "0x" || rootStr[:2] == "0X")) {
			return nil, fmt.Errorf("invalid state root format: %q", rootStr)
		}
		root = common.HexToHash(rootStr)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	ldb, err := leveldb.New(filepath.Join(dir, fmt.Sprintf("chain%d", chainID)), 128, 1024, "", false)
	if err != nil {
		return nil, err
	}
	tdb := triedb.NewDatabase(rawdb.NewDatabase(ldb), nil)
	db := state.NewDatabase(tdb, nil)

	stateDB, err := state.New(root, db)
	if err != nil {
		ldb.Close()
		return nil, err
	}
	log.Printf("Chain %d: opened persistent state at %s (root %s)", chainID, dir, root.Hex())

	return &State{
		chainID:  chainID,
		tdb:      tdb,
		db:       db,
		stateDB:  stateDB,
		ldb:      ldb,
		rootPath: rootPath,
	}, nil
}

// ChainID returns the id of the chain this state belongs to
func (s *State) ChainID() uint64 {
	return s.chainID
}

// Execute runs fn as one atomic transaction. Transient storage starts empty and
// is discarded when fn returns; if fn fails or panics every state change it
// made, including logs, is reverted.
func (s *State) Execute(txID string, fn func() error) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	txHash := crypto.Keccak256Hash([]byte(txID))
	s.stateDB.SetTxContext(txHash, s.txIndex)
	s.txIndex++
	s.resetTransient()
	defer s.resetTransient()

	snapshot := s.stateDB.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.stateDB.RevertToSnapshot(snapshot)
			s.stateDB.Finalise(false)
			panic(r)
		}
	}()
	if err := fn(); err != nil {
		s.stateDB.RevertToSnapshot(snapshot)
		s.stateDB.Finalise(false)
		return nil, err
	}

	result := &Result{TxID: txID, TxHash: txHash}
	for _, l := range s.stateDB.Logs() {
		if l.TxHash == txHash {
			result.Logs = append(result.Logs, l)
		}
	}
	s.stateDB.Finalise(false)
	return result, nil
}

// View runs fn with the state locked for reading.
func (s *State) View(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// resetTransient drops EIP-1153 transient storage, marking a transaction boundary.
func (s *State) resetTransient() {
	s.stateDB.Prepare(params.Rules{}, common.Address{}, common.Address{}, nil, nil, nil)
}

// Snapshot creates a state snapshot for a nested rollback inside Execute
func (s *State) Snapshot() int {
	return s.stateDB.Snapshot()
}

// RevertToSnapshot rolls back state to a snapshot taken in the current transaction
func (s *State) RevertToSnapshot(id int) {
	s.stateDB.RevertToSnapshot(id)
}

// Commit commits the current state and returns the new root
func (s *State) Commit(blockNum uint64) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return common.Hash{}, ErrClosed
	}

	root, err := s.stateDB.Commit(blockNum, false, false)
	if err != nil {
		return common.Hash{}, err
	}
	if s.ldb != nil {
		if err := s.tdb.Commit(root, false); err != nil {
			return common.Hash{}, err
		}
		if err := os.WriteFile(s.rootPath, []byte(root.Hex()), 0644); err != nil {
			return common.Hash{}, err
		}
	}

	// Recreate StateDB at the new root so cached tries aren't reused after commit
	stateDB, err := state.New(root, s.db)
	if err != nil {
		log.Printf("Chain %d: failed to reload StateDB at root %s: %v", s.chainID, root.Hex(), err)
		return common.Hash{}, err
	}
	s.stateDB = stateDB
	s.txIndex = 0
	return root, nil
}

// Close releases the database. It is safe to call more than once.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.ldb != nil {
		return s.ldb.Close()
	}
	return nil
}
