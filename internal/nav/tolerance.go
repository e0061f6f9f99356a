package nav

import (
	"fmt"
	"math/big"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10000

// ImpactBps returns floor(transferValue * 10000 / totalAssets). It is zero when
// totalAssets is not positive.
func ImpactBps(transferValue, totalAssets *big.Int) *big.Int {
	if totalAssets == nil || totalAssets.Sign() <= 0 {
		return new(big.Int)
	}
	impact := new(big.Int).Mul(new(big.Int).Abs(transferValue), big.NewInt(BpsDenominator))
	return impact.Quo(impact, totalAssets)
}

// ValidateImpact rejects a transfer whose value exceeds toleranceBps of totalAssets.
// An empty pool accepts any transfer.
func ValidateImpact(transferValue, totalAssets *big.Int, toleranceBps uint64) error {
	if totalAssets == nil || totalAssets.Sign() <= 0 {
		return nil
	}
	impact := ImpactBps(transferValue, totalAssets)
	if impact.Cmp(new(big.Int).SetUint64(toleranceBps)) > 0 {
		return fmt.Errorf("%w: %s bps > %d bps", ErrNavImpactTooHigh, impact, toleranceBps)
	}
	return nil
}
