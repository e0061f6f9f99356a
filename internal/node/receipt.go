package node

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Receipt statuses
const (
	ReceiptStatusFailed  hexutil.Uint64 = 0
	ReceiptStatusSuccess hexutil.Uint64 = 1
)

// Receipt represents the result of a transaction execution
type Receipt struct {
	TxID        string         `json:"txId"`
	TxHash      common.Hash    `json:"transactionHash"`
	Kind        string         `json:"kind"`
	BlockNumber *hexutil.Big   `json:"blockNumber"`
	Logs        []*types.Log   `json:"logs"`
	Status      hexutil.Uint64 `json:"status"`
	Error       string         `json:"error,omitempty"`
}

// ReceiptStore manages transaction receipts in memory
type ReceiptStore struct {
	receipts map[string]*Receipt
	byHash   map[common.Hash]string
	mu       sync.RWMutex
}

func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{
		receipts: make(map[string]*Receipt),
		byHash:   make(map[common.Hash]string),
	}
}

func (s *ReceiptStore) AddReceipt(r *Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Store a copy to avoid aliasing caller's data
	s.receipts[r.TxID] = r.DeepCopy()
	if r.TxHash != (common.Hash{}) {
		s.byHash[r.TxHash] = r.TxID
	}
}

func (s *ReceiptStore) GetReceipt(txID string) *Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receipts[txID].DeepCopy()
}

// GetReceiptByHash looks a receipt up by transaction hash
func (s *ReceiptStore) GetReceiptByHash(hash common.Hash) *Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil
	}
	return s.receipts[id].DeepCopy()
}

// SetBlock records the block that included txIDs
func (s *ReceiptStore) SetBlock(height uint64, txIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range txIDs {
		if r := s.receipts[id]; r != nil {
			r.BlockNumber = (*hexutil.Big)(new(big.Int).SetUint64(height))
		}
	}
}

// DeepCopy creates a deep copy of the Receipt
func (r *Receipt) DeepCopy() *Receipt {
	if r == nil {
		return nil
	}

	result := &Receipt{
		TxID:   r.TxID,
		TxHash: r.TxHash,
		Kind:   r.Kind,
		Status: r.Status,
		Error:  r.Error,
	}

	if r.BlockNumber != nil {
		bn := new(big.Int).Set(r.BlockNumber.ToInt())
		result.BlockNumber = (*hexutil.Big)(bn)
	}

	if r.Logs != nil {
		result.Logs = make([]*types.Log, len(r.Logs))
		for i, log := range r.Logs {
			if log != nil {
				logCopy := *log
				if log.Topics != nil {
					logCopy.Topics = make([]common.Hash, len(log.Topics))
					copy(logCopy.Topics, log.Topics)
				}
				if log.Data != nil {
					logCopy.Data = make([]byte, len(log.Data))
					copy(logCopy.Data, log.Data)
				}
				result.Logs[i] = &logCopy
			}
		}
	}

	return result
}
