package node

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sharding-experiment/navpool/internal/protocol"
)

// Chain maintains the block chain of a pool chain
type Chain struct {
	mu         sync.RWMutex
	chainID    uint64
	blocks     []*protocol.PoolBlock
	height     uint64
	currentTxs []string
}

func NewChain(chainID uint64, genesisRoot common.Hash) *Chain {
	genesis := &protocol.PoolBlock{
		ChainID:   chainID,
		Height:    0,
		PrevHash:  protocol.BlockHash{},
		Timestamp: uint64(time.Now().Unix()),
		StateRoot: genesisRoot,
		TxIDs:     []string{},
	}

	return &Chain{
		chainID:    chainID,
		blocks:     []*protocol.PoolBlock{genesis},
		height:     0,
		currentTxs: []string{},
	}
}

// AddTx queues an applied transaction for the next block
func (c *Chain) AddTx(txID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTxs = append(c.currentTxs, txID)
}

// Pending returns the number of transactions waiting for a block
func (c *Chain) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.currentTxs)
}

// Height returns the height of the latest block
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

// ProduceBlock seals the queued transactions on top of the latest block
func (c *Chain) ProduceBlock(stateRoot common.Hash) *protocol.PoolBlock {
	c.mu.Lock()
	defer c.mu.Unlock()

	txs := c.currentTxs
	if txs == nil {
		txs = []string{}
	}
	block := &protocol.PoolBlock{
		ChainID:   c.chainID,
		Height:    c.height + 1,
		PrevHash:  c.blocks[c.height].Hash(),
		Timestamp: uint64(time.Now().Unix()),
		StateRoot: stateRoot,
		TxIDs:     txs,
	}

	c.blocks = append(c.blocks, block)
	c.height++
	c.currentTxs = nil

	return block
}

// Latest returns the latest block
func (c *Chain) Latest() *protocol.PoolBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[c.height]
}

// Block returns the block at height, or nil
func (c *Chain) Block(height uint64) *protocol.PoolBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if height > c.height {
		return nil
	}
	return c.blocks[height]
}
