package ledger

import (
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/chainstate"
)

// Storage layout of the ledger inside the pool account.
var (
	virtualSupplySlot   = crypto.Keccak256Hash([]byte("navpool.ledger.virtualSupply"))
	virtualBalancesSlot = crypto.Keccak256Hash([]byte("navpool.ledger.virtualBalances"))
	tokenListSlot       = crypto.Keccak256Hash([]byte("navpool.ledger.tokens"))
	tokenSeenSlot       = crypto.Keccak256Hash([]byte("navpool.ledger.tokenSeen"))
)

// Ledger is the virtual balance / virtual supply book of one pool on one chain.
// It only does bookkeeping; the rules deciding what to book live with the callers.
//
// The ledger keeps no state of its own in memory: every value lives in the
// pool's storage, so a reverted transaction reverts the ledger with it.
// Callers must hold the chain state (inside State.Execute or State.View).
type Ledger struct {
	state *chainstate.State
	owner common.Address
}

// Snapshot is a point-in-time copy of the ledger.
type Snapshot struct {
	Balances map[common.Address]SignedAmount `json:"virtual_balances"`
	Supply   SignedAmount                    `json:"virtual_supply"`
}

// New creates the ledger of the pool at owner.
func New(state *chainstate.State, owner common.Address) *Ledger {
	return &Ledger{state: state, owner: owner}
}

// Owner returns the pool address holding the ledger.
func (l *Ledger) Owner() common.Address {
	return l.owner
}

func balanceKey(token common.Address) common.Hash {
	return chainstate.MappingSlot(common.BytesToHash(token.Bytes()), virtualBalancesSlot)
}

// Balance returns the virtual balance of token
func (l *Ledger) Balance(token common.Address) SignedAmount {
	return SignedFromHash(l.state.GetStorage(l.owner, balanceKey(token)))
}

// Supply returns the virtual supply
func (l *Ledger) Supply() SignedAmount {
	return SignedFromHash(l.state.GetStorage(l.owner, virtualSupplySlot))
}

// AdjustBalance adds delta to the virtual balance of token and returns the new value.
func (l *Ledger) AdjustBalance(token common.Address, delta SignedAmount) (SignedAmount, error) {
	if delta.IsZero() {
		return l.Balance(token), nil
	}
	next, err := l.Balance(token).CheckedAdd(delta)
	if err != nil {
		return Zero, fmt.Errorf("virtual balance of %s: %w", token.Hex(), err)
	}
	l.trackToken(token)
	l.state.SetStorage(l.owner, balanceKey(token), next.Hash())
	l.state.AddLog(balanceEvent(l.owner, token, delta, next))

	log.Printf("Ledger %s: virtual balance %s %s -> %s", short(l.owner), short(token), signed(delta), next)
	return next, nil
}

// AdjustSupply adds delta to the virtual supply and returns the new value.
func (l *Ledger) AdjustSupply(delta SignedAmount) (SignedAmount, error) {
	if delta.IsZero() {
		return l.Supply(), nil
	}
	next, err := l.Supply().CheckedAdd(delta)
	if err != nil {
		return Zero, fmt.Errorf("virtual supply: %w", err)
	}
	l.state.SetStorage(l.owner, virtualSupplySlot, next.Hash())
	l.state.AddLog(supplyEvent(l.owner, delta, next))

	log.Printf("Ledger %s: virtual supply %s -> %s", short(l.owner), signed(delta), next)
	return next, nil
}

// Tokens lists every token whose virtual balance was ever touched, in first-use order.
func (l *Ledger) Tokens() []common.Address {
	n := chainstate.HashToUint(l.state.GetStorage(l.owner, tokenListSlot)).Uint64()
	tokens := make([]common.Address, 0, n)
	for i := uint64(0); i < n; i++ {
		tokens = append(tokens, common.BytesToAddress(l.state.GetStorage(l.owner, tokenIndexSlot(i)).Bytes()))
	}
	return tokens
}

// Read returns a snapshot of all non-zero virtual balances and the virtual supply.
func (l *Ledger) Read() Snapshot {
	snap := Snapshot{
		Balances: make(map[common.Address]SignedAmount),
		Supply:   l.Supply(),
	}
	for _, token := range l.Tokens() {
		if bal := l.Balance(token); !bal.IsZero() {
			snap.Balances[token] = bal
		}
	}
	return snap
}

func tokenIndexSlot(i uint64) common.Hash {
	base := new(big.Int).SetBytes(crypto.Keccak256(tokenListSlot.Bytes()))
	return common.BigToHash(base.Add(base, new(big.Int).SetUint64(i)))
}

func (l *Ledger) trackToken(token common.Address) {
	seenKey := chainstate.MappingSlot(common.BytesToHash(token.Bytes()), tokenSeenSlot)
	if l.state.GetStorage(l.owner, seenKey) != (common.Hash{}) {
		return
	}
	n := chainstate.HashToUint(l.state.GetStorage(l.owner, tokenListSlot)).Uint64()
	l.state.SetStorage(l.owner, tokenIndexSlot(n), common.BytesToHash(token.Bytes()))
	l.state.SetStorage(l.owner, tokenListSlot, chainstate.UintToHash(uint256.NewInt(n+1)))
	l.state.SetStorage(l.owner, seenKey, common.BigToHash(common.Big1))
}

func short(addr common.Address) string {
	return addr.Hex()[:10]
}

func signed(x SignedAmount) string {
	if x.IsNegative() {
		return x.String()
	}
	return "+" + x.String()
}
