// Package nav prices a pool: it values holdings through an Oracle, folds in the
// virtual ledger and derives the unitary value (NAV per share).
package nav

import (
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/ledger"
)

// Where the last refreshed state is kept inside the pool account.
var (
	unitaryValueSlot    = crypto.Keccak256Hash([]byte("navpool.nav.unitaryValue"))
	totalAssetsSlot     = crypto.Keccak256Hash([]byte("navpool.nav.totalAssets"))
	effectiveSupplySlot = crypto.Keccak256Hash([]byte("navpool.nav.effectiveSupply"))
)

// Book is the pool-side information the engine prices.
type Book interface {
	// ActiveAssets lists the tokens whose real balances count as pool assets.
	ActiveAssets() []common.Address
	// RealSupply is the number of pool shares held by accounts.
	RealSupply() *uint256.Int
}

// State is a priced view of the pool.
type State struct {
	UnitaryValue    ledger.SignedAmount `json:"unitary_value"`
	TotalAssets     ledger.SignedAmount `json:"total_assets"`
	EffectiveSupply ledger.SignedAmount `json:"effective_supply"`
}

// Engine computes and stores the NAV of one pool.
// Like the ledger it keeps nothing in memory and must be used under the chain state lock.
type Engine struct {
	state       *chainstate.State
	ledger      *ledger.Ledger
	oracle      Oracle
	book        Book
	decimals    uint8
	nativeToken common.Address // values the pool's native balance; zero to ignore it
}

// NewEngine creates the engine of the pool owning l.
func NewEngine(state *chainstate.State, l *ledger.Ledger, oracle Oracle, book Book, decimals uint8, nativeToken common.Address) *Engine {
	return &Engine{
		state:       state,
		ledger:      l,
		oracle:      oracle,
		book:        book,
		decimals:    decimals,
		nativeToken: nativeToken,
	}
}

// Oracle returns the oracle the engine values holdings with
func (e *Engine) Oracle() Oracle {
	return e.oracle
}

// Unit is one whole share (and the initial unitary value) in smallest units.
func (e *Engine) Unit() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(e.decimals)), nil)
}

// TotalAssets values the real holdings of every active asset plus the signed
// value of every virtual balance.
func (e *Engine) TotalAssets() (*big.Int, error) {
	pool := e.ledger.Owner()
	total := new(big.Int)
	for _, token := range e.book.ActiveAssets() {
		v, err := e.oracle.Value(token, e.state.TokenBalance(token, pool))
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	if e.nativeToken != (common.Address{}) {
		if native := e.state.NativeBalance(pool); !native.IsZero() {
			v, err := e.oracle.Value(e.nativeToken, native)
			if err != nil {
				return nil, err
			}
			total.Add(total, v)
		}
	}
	for _, token := range e.ledger.Tokens() {
		vb := e.ledger.Balance(token)
		if vb.IsZero() {
			continue
		}
		v, err := SignedValue(e.oracle, token, vb.Big())
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, nil
}

// EffectiveSupply returns real supply plus virtual supply.
func (e *Engine) EffectiveSupply() *big.Int {
	return new(big.Int).Add(e.book.RealSupply().ToBig(), e.ledger.Supply().Big())
}

// CheckSupply enforces the effective supply floor: it may be zero, but never
// negative and never inside (0, real/8).
func (e *Engine) CheckSupply() error {
	return checkSupply(e.book.RealSupply().ToBig(), e.EffectiveSupply())
}

func checkSupply(real, effective *big.Int) error {
	if effective.Sign() < 0 {
		return fmt.Errorf("%w: %s is negative", ErrEffectiveSupplyTooLow, effective)
	}
	floor := new(big.Int).Rsh(real, 3)
	if effective.Sign() > 0 && effective.Cmp(floor) < 0 {
		return fmt.Errorf("%w: %s below %s", ErrEffectiveSupplyTooLow, effective, floor)
	}
	return nil
}

// CurrentState prices the pool without storing the result.
func (e *Engine) CurrentState() (State, error) {
	assets, err := e.TotalAssets()
	if err != nil {
		return State{}, err
	}
	supply := e.EffectiveSupply()
	if err := checkSupply(e.book.RealSupply().ToBig(), supply); err != nil {
		return State{}, err
	}

	var unitary *big.Int
	switch {
	case supply.Sign() == 0:
		// No shares to divide by: keep the last price, or start at one unit.
		unitary = e.StoredState().UnitaryValue.Big()
		if unitary.Sign() <= 0 {
			unitary = e.Unit()
		}
	case assets.Sign() <= 0:
		unitary = new(big.Int)
	default:
		unitary = new(big.Int).Mul(assets, e.Unit())
		unitary.Quo(unitary, supply)
	}
	return State{
		UnitaryValue:    ledger.SignedFromBig(unitary),
		TotalAssets:     ledger.SignedFromBig(assets),
		EffectiveSupply: ledger.SignedFromBig(supply),
	}, nil
}

// Refresh prices the pool and stores the result as the new baseline.
func (e *Engine) Refresh() (State, error) {
	st, err := e.CurrentState()
	if err != nil {
		return State{}, err
	}
	pool := e.ledger.Owner()
	e.state.SetStorage(pool, unitaryValueSlot, st.UnitaryValue.Hash())
	e.state.SetStorage(pool, totalAssetsSlot, st.TotalAssets.Hash())
	e.state.SetStorage(pool, effectiveSupplySlot, st.EffectiveSupply.Hash())

	log.Printf("NAV %s: refreshed unitary=%s assets=%s supply=%s",
		pool.Hex()[:10], st.UnitaryValue, st.TotalAssets, st.EffectiveSupply)
	return st, nil
}

// StoredState returns the state saved by the last Refresh.
func (e *Engine) StoredState() State {
	pool := e.ledger.Owner()
	return State{
		UnitaryValue:    ledger.SignedFromHash(e.state.GetStorage(pool, unitaryValueSlot)),
		TotalAssets:     ledger.SignedFromHash(e.state.GetStorage(pool, totalAssetsSlot)),
		EffectiveSupply: ledger.SignedFromHash(e.state.GetStorage(pool, effectiveSupplySlot)),
	}
}

// SharesFor converts a base value to shares at unitaryValue, floored.
func (e *Engine) SharesFor(value, unitaryValue *big.Int) (*big.Int, error) {
	if unitaryValue.Sign() <= 0 {
		return nil, ErrZeroUnitaryValue
	}
	shares := new(big.Int).Mul(value, e.Unit())
	return shares.Quo(shares, unitaryValue), nil
}

// ValueOf converts shares to base value at unitaryValue, floored.
func (e *Engine) ValueOf(shares, unitaryValue *big.Int) *big.Int {
	v := new(big.Int).Mul(shares, unitaryValue)
	return v.Quo(v, e.Unit())
}
