// Package pool is one chain's deployment of the fund pool: its identity, the
// assets it tracks, its share token and the ledger and NAV engine shared by
// every component acting on it.
package pool

import (
	"errors"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/config"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/ledger"
	"github.com/sharding-experiment/navpool/internal/nav"
)

var (
	// ErrZeroAmount is returned for mints and burns of nothing.
	ErrZeroAmount = errors.New("amount must be positive")
	// ErrNothingMinted is returned when a deposit is worth less than one share.
	ErrNothingMinted = errors.New("deposit too small to mint a share")
)

var (
	activeListSlot = crypto.Keccak256Hash([]byte("navpool.pool.activeAssets"))
	activeSeenSlot = crypto.Keccak256Hash([]byte("navpool.pool.activeSeen"))
)

// Params identifies a pool on one chain.
type Params struct {
	Address       common.Address
	BaseToken     common.Address
	Decimals      uint8
	WrappedNative common.Address
}

// ParamsFromConfig reads the pool section of a chain config.
func ParamsFromConfig(cfg config.PoolConfig) (Params, error) {
	for name, addr := range map[string]string{"address": cfg.Address, "base_token": cfg.BaseToken} {
		if !common.IsHexAddress(addr) {
			return Params{}, fmt.Errorf("pool.%s: invalid address %q", name, addr)
		}
	}
	p := Params{
		Address:   common.HexToAddress(cfg.Address),
		BaseToken: common.HexToAddress(cfg.BaseToken),
		Decimals:  cfg.Decimals,
	}
	if cfg.WrappedNative != "" {
		p.WrappedNative = common.HexToAddress(cfg.WrappedNative)
	}
	return p, nil
}

// Pool is the pool on one chain. Its shares are an ERC-20 balance table kept on
// the pool account itself. Methods that touch state must run inside
// State.Execute or State.View.
type Pool struct {
	params Params
	state  *chainstate.State
	ledger *ledger.Ledger
	engine *nav.Engine
}

// New wires the pool's ledger and NAV engine over state.
func New(state *chainstate.State, params Params, oracle nav.Oracle) *Pool {
	p := &Pool{
		params: params,
		state:  state,
		ledger: ledger.New(state, params.Address),
	}
	p.engine = nav.NewEngine(state, p.ledger, oracle, p, params.Decimals, params.WrappedNative)
	return p
}

func (p *Pool) Address() common.Address       { return p.params.Address }
func (p *Pool) BaseToken() common.Address     { return p.params.BaseToken }
func (p *Pool) Decimals() uint8               { return p.params.Decimals }
func (p *Pool) WrappedNative() common.Address { return p.params.WrappedNative }
func (p *Pool) ChainID() uint64               { return p.state.ChainID() }
func (p *Pool) State() *chainstate.State      { return p.state }
func (p *Pool) Ledger() *ledger.Ledger        { return p.ledger }
func (p *Pool) Engine() *nav.Engine           { return p.engine }
func (p *Pool) Oracle() nav.Oracle            { return p.engine.Oracle() }

// SharesOf returns the share balance of holder
func (p *Pool) SharesOf(holder common.Address) *uint256.Int {
	return p.state.TokenBalance(p.params.Address, holder)
}

// RealSupply is the share supply held by accounts.
func (p *Pool) RealSupply() *uint256.Int {
	return p.state.TokenSupply(p.params.Address)
}

// ActiveAssets lists the base token followed by every registered asset.
func (p *Pool) ActiveAssets() []common.Address {
	n := chainstate.HashToUint(p.state.GetStorage(p.params.Address, activeListSlot)).Uint64()
	assets := make([]common.Address, 0, n+1)
	assets = append(assets, p.params.BaseToken)
	for i := uint64(0); i < n; i++ {
		assets = append(assets, common.BytesToAddress(p.state.GetStorage(p.params.Address, activeIndexSlot(i)).Bytes()))
	}
	return assets
}

// IsActive reports whether token counts toward total assets.
func (p *Pool) IsActive(token common.Address) bool {
	if token == p.params.BaseToken {
		return true
	}
	return p.state.GetStorage(p.params.Address, activeSeenKey(token)) != (common.Hash{})
}

// AddActiveAsset registers token as a pool asset. It returns false if it already was one.
func (p *Pool) AddActiveAsset(token common.Address) bool {
	if p.IsActive(token) {
		return false
	}
	n := chainstate.HashToUint(p.state.GetStorage(p.params.Address, activeListSlot)).Uint64()
	p.state.SetStorage(p.params.Address, activeIndexSlot(n), common.BytesToHash(token.Bytes()))
	p.state.SetStorage(p.params.Address, activeListSlot, chainstate.UintToHash(uint256.NewInt(n+1)))
	p.state.SetStorage(p.params.Address, activeSeenKey(token), common.BigToHash(common.Big1))
	log.Printf("Chain %d: pool %s registered active asset %s", p.ChainID(), p.params.Address.Hex(), token.Hex())
	return true
}

func activeIndexSlot(i uint64) common.Hash {
	base := new(big.Int).SetBytes(crypto.Keccak256(activeListSlot.Bytes()))
	return common.BigToHash(base.Add(base, new(big.Int).SetUint64(i)))
}

func activeSeenKey(token common.Address) common.Hash {
	return chainstate.MappingSlot(common.BytesToHash(token.Bytes()), activeSeenSlot)
}

// Mint takes amount of base token from holder and issues shares at the
// current NAV, which is computed over the effective supply.
func (p *Pool) Mint(holder common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroAmount
	}
	st, err := p.engine.Refresh()
	if err != nil {
		return nil, err
	}
	value, err := p.Oracle().Value(p.params.BaseToken, amount)
	if err != nil {
		return nil, err
	}
	sharesBig, err := p.engine.SharesFor(value, st.UnitaryValue.Big())
	if err != nil {
		return nil, err
	}
	shares, overflow := uint256.FromBig(sharesBig)
	if overflow {
		return nil, fmt.Errorf("mint of %s overflows", amount)
	}
	if shares.IsZero() {
		return nil, ErrNothingMinted
	}

	if err := p.state.TransferToken(p.params.BaseToken, holder, p.params.Address, amount); err != nil {
		return nil, fmt.Errorf("collect base token: %w", err)
	}
	if err := p.state.MintToken(p.params.Address, holder, shares); err != nil {
		return nil, err
	}
	if err := p.engine.CheckSupply(); err != nil {
		return nil, err
	}
	log.Printf("Chain %d: minted %s shares to %s for %s base at unitary value %s",
		p.ChainID(), shares, holder.Hex(), amount, st.UnitaryValue)
	return shares, nil
}

// Burn redeems shares of holder for base token at the current NAV.
func (p *Pool) Burn(holder common.Address, shares *uint256.Int) (*uint256.Int, error) {
	if shares == nil || shares.IsZero() {
		return nil, ErrZeroAmount
	}
	st, err := p.engine.Refresh()
	if err != nil {
		return nil, err
	}
	value := p.engine.ValueOf(shares.ToBig(), st.UnitaryValue.Big())
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("burn of %s overflows", shares)
	}

	if err := p.state.BurnToken(p.params.Address, holder, shares); err != nil {
		return nil, fmt.Errorf("burn shares: %w", err)
	}
	if err := p.state.TransferToken(p.params.BaseToken, p.params.Address, holder, out); err != nil {
		return nil, fmt.Errorf("pay out base token: %w", err)
	}
	if err := p.engine.CheckSupply(); err != nil {
		return nil, err
	}
	log.Printf("Chain %d: burned %s shares of %s for %s base", p.ChainID(), shares, holder.Hex(), out)
	return out, nil
}
