package nav

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/config"
	"github.com/shopspring/decimal"
)

// Oracle converts token amounts into base-asset value.
type Oracle interface {
	// Value returns the base-asset value of amount smallest units of token, floored.
	Value(token common.Address, amount *uint256.Int) (*big.Int, error)
	// HasPriceFeed reports whether token can be valued.
	HasPriceFeed(token common.Address) bool
}

// PriceOracle is a static price table. Each price is the number of base-asset
// smallest units one smallest unit of the token is worth.
type PriceOracle struct {
	mu     sync.RWMutex
	prices map[common.Address]decimal.Decimal
}

// NewPriceOracle creates an empty price table
func NewPriceOracle() *PriceOracle {
	return &PriceOracle{prices: make(map[common.Address]decimal.Decimal)}
}

// NewPriceOracleFromConfig builds the price table of a chain from its token list.
func NewPriceOracleFromConfig(tokens []config.TokenConfig) (*PriceOracle, error) {
	o := NewPriceOracle()
	for _, tok := range tokens {
		if !common.IsHexAddress(tok.Address) {
			return nil, fmt.Errorf("invalid token address %q", tok.Address)
		}
		price, err := decimal.NewFromString(tok.Price)
		if err != nil {
			return nil, fmt.Errorf("price of %s: %w", tok.Address, err)
		}
		if err := o.SetPrice(common.HexToAddress(tok.Address), price); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// SetPrice installs or replaces the price of token.
func (o *PriceOracle) SetPrice(token common.Address, price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("price of %s is negative", token.Hex())
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[token] = price
	return nil
}

// Price returns the price of token
func (o *PriceOracle) Price(token common.Address) (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.prices[token]
	return p, ok
}

func (o *PriceOracle) HasPriceFeed(token common.Address) bool {
	_, ok := o.Price(token)
	return ok
}

func (o *PriceOracle) Value(token common.Address, amount *uint256.Int) (*big.Int, error) {
	price, ok := o.Price(token)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPriceFeed, token.Hex())
	}
	if amount == nil || amount.IsZero() {
		return new(big.Int), nil
	}
	return decimal.NewFromBigInt(amount.ToBig(), 0).Mul(price).Floor().BigInt(), nil
}

// SignedValue values a signed amount: the magnitude is valued and the sign kept.
func SignedValue(o Oracle, token common.Address, amount *big.Int) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	mag, overflow := uint256.FromBig(new(big.Int).Abs(amount))
	if overflow {
		return nil, fmt.Errorf("amount of %s out of range", token.Hex())
	}
	v, err := o.Value(token, mag)
	if err != nil {
		return nil, err
	}
	if amount.Sign() < 0 {
		v.Neg(v)
	}
	return v, nil
}
