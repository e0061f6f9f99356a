package crosschain

import (
	"context"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/bridge"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/ledger"
	"github.com/sharding-experiment/navpool/internal/nav"
	"github.com/sharding-experiment/navpool/internal/pool"
	"github.com/sharding-experiment/navpool/internal/protocol"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	poolAddr  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	baseToken = common.HexToAddress("0x000000000000000000000000000000000000ba5e")
	weth      = common.HexToAddress("0x0000000000000000000000000000000000000e7e")
	unpriced  = common.HexToAddress("0x000000000000000000000000000000000000dead")
	handler   = common.HexToAddress("0x000000000000000000000000000000000000ca11")
	spoke     = common.HexToAddress("0x0000000000000000000000000000000000005b0e")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000a11ce5")
	mallory   = common.HexToAddress("0x000000000000000000000000000000000000bad0")
)

var (
	transferMsg = protocol.DestinationMessage{OpType: protocol.OpTransfer}
	syncMsg     = protocol.DestinationMessage{OpType: protocol.OpSync}
)

// testChain is one chain running the pool, with both cross-chain roles wired.
type testChain struct {
	state     *chainstate.State
	pool      *pool.Pool
	handler   *Handler
	initiator *Initiator
	executor  *bridge.Executor
	spoke     *bridge.SpokePool
	transport *bridge.LocalTransport
}

func newTestChain(t *testing.T, chainID uint64, peers ...uint64) *testChain {
	t.Helper()
	st, err := chainstate.NewMemoryState(chainID)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	o := nav.NewPriceOracle()
	require.NoError(t, o.SetPrice(baseToken, decimal.NewFromInt(1)))
	require.NoError(t, o.SetPrice(weth, decimal.NewFromInt(2)))

	p := pool.New(st, pool.Params{Address: poolAddr, BaseToken: baseToken, Decimals: 6, WrappedNative: weth}, o)
	c := &testChain{
		state:     st,
		pool:      p,
		handler:   NewHandler(p),
		spoke:     bridge.NewSpokePool(st, spoke),
		transport: bridge.NewLocalTransport(),
		executor:  bridge.NewExecutor(st, handler),
	}
	c.initiator = NewInitiator(p, c.spoke, c.transport, handler, peers)
	c.executor.Register(poolAddr, c.handler)
	return c
}

func (c *testChain) exec(t *testing.T, fn func() error) error {
	t.Helper()
	_, err := c.state.Execute("test", fn)
	return err
}

// seed gives the pool assets worth n base units and n shares held by alice.
func (c *testChain) seed(t *testing.T, n uint64) {
	t.Helper()
	require.NoError(t, c.exec(t, func() error {
		if err := c.state.MintToken(baseToken, alice, uint256.NewInt(n)); err != nil {
			return err
		}
		_, err := c.pool.Mint(alice, uint256.NewInt(n))
		return err
	}))
}

func (c *testChain) nav(t *testing.T) nav.State {
	t.Helper()
	var st nav.State
	c.state.View(func() {
		var err error
		st, err = c.pool.Engine().CurrentState()
		require.NoError(t, err)
	})
	return st
}

func (c *testChain) book(t *testing.T) ledger.Snapshot {
	t.Helper()
	var snap ledger.Snapshot
	c.state.View(func() { snap = c.pool.Ledger().Read() })
	return snap
}

func (c *testChain) virtualBalance(t *testing.T) string {
	t.Helper()
	var s string
	c.state.View(func() { s = c.pool.Ledger().Balance(baseToken).String() })
	return s
}

func (c *testChain) virtualSupply(t *testing.T) string {
	t.Helper()
	var s string
	c.state.View(func() { s = c.pool.Ledger().Supply().String() })
	return s
}

func (c *testChain) balance(token, holder common.Address) uint64 {
	var v uint64
	c.state.View(func() { v = c.state.TokenBalance(token, holder).Uint64() })
	return v
}

// adjust books virtual amounts directly, standing in for earlier legs.
func (c *testChain) adjust(t *testing.T, vb, vs int64) {
	t.Helper()
	require.NoError(t, c.exec(t, func() error {
		if _, err := c.pool.Ledger().AdjustBalance(baseToken, ledger.NewSigned(vb)); err != nil {
			return err
		}
		_, err := c.pool.Ledger().AdjustSupply(ledger.NewSigned(vs))
		return err
	}))
}

// rebalance books vb as the base virtual balance and moves the same amount of
// real base token the other way, as a completed leg would, leaving NAV alone.
func (c *testChain) rebalance(t *testing.T, vb int64) {
	t.Helper()
	require.NoError(t, c.exec(t, func() error {
		if vb > 0 {
			if err := c.state.TransferToken(baseToken, poolAddr, mallory, uint256.NewInt(uint64(vb))); err != nil {
				return err
			}
		} else if err := c.state.MintToken(baseToken, poolAddr, uint256.NewInt(uint64(-vb))); err != nil {
			return err
		}
		_, err := c.pool.Ledger().AdjustBalance(baseToken, ledger.NewSigned(vb))
		return err
	}))
}

// deliver runs a full donate cycle inside fn's transaction: snapshot, the
// physical delivery of delivered tokens, then finalize for amount.
func (c *testChain) deliver(token common.Address, amount, delivered uint64, msg protocol.DestinationMessage) func() error {
	return func() error {
		if err := c.handler.Donate(token, protocol.DonateSentinel, msg); err != nil {
			return err
		}
		if err := c.state.MintToken(token, poolAddr, uint256.NewInt(delivered)); err != nil {
			return err
		}
		return c.handler.Donate(token, uint256.NewInt(amount), msg)
	}
}

func (c *testChain) initiate(t *testing.T, p TransferParams) (*bridge.Deposit, error) {
	t.Helper()
	var d *bridge.Deposit
	res, err := c.state.Execute("initiate", func() (err error) {
		d, err = c.initiator.Initiate(context.Background(), p)
		return err
	})
	if err == nil {
		t.Logf("initiate logs: %s", spew.Sdump(ledger.ParseEvents(res.Logs)))
	}
	return d, err
}

func baseTransfer(amount uint64, dest uint64, op protocol.OpType) TransferParams {
	return TransferParams{
		InputToken:         baseToken,
		InputAmount:        uint256.NewInt(amount),
		OutputToken:        baseToken,
		OutputAmount:       uint256.NewInt(amount),
		DestinationChainID: dest,
		OpType:             op,
		NavToleranceBps:    100,
	}
}
