package protocol

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

type BlockHash [32]byte

// PoolBlock seals the transactions a pool chain applied, in order
type PoolBlock struct {
	ChainID   uint64      `json:"chain_id"`
	Height    uint64      `json:"height"`
	PrevHash  BlockHash   `json:"prev_hash"`
	Timestamp uint64      `json:"timestamp"`
	StateRoot common.Hash `json:"state_root"`
	TxIDs     []string    `json:"tx_ids"`
}

func (b *PoolBlock) Hash() BlockHash {
	data, _ := json.Marshal(b)
	return sha256.Sum256(data)
}
