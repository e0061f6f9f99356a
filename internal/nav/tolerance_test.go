package nav

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateImpact(t *testing.T) {
	tests := []struct {
		name      string
		value     int64
		assets    int64
		tolerance uint64
		wantErr   bool
	}{
		{"empty pool accepts anything", 1_000_000, 0, 0, false},
		{"negative assets accepts anything", 1_000_000, -5, 0, false},
		{"exactly at tolerance", 100, 10_000, 100, false},
		{"just above tolerance", 101, 10_000, 100, true},
		{"floored to tolerance", 10_099, 1_000_000, 100, false},
		{"zero tolerance zero impact", 9, 100_000, 0, false},
		{"zero tolerance", 10, 100_000, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImpact(big.NewInt(tt.value), big.NewInt(tt.assets), tt.tolerance)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNavImpactTooHigh)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestImpactBps(t *testing.T) {
	assert.Equal(t, big.NewInt(100), ImpactBps(big.NewInt(1_000), big.NewInt(100_000)))
	assert.Equal(t, big.NewInt(0), ImpactBps(big.NewInt(1_000), big.NewInt(0)))
}

// An unrelated donation raising total assets can only lower the impact of a
// fixed transfer, so it can never turn an accepted transfer into a rejected one.
func TestValidateImpact_ExternalDonationCannotBlock(t *testing.T) {
	transfer := big.NewInt(1_000)
	for _, assets := range []int64{1, 7, 999, 1_000, 12_345, 100_000} {
		base := ImpactBps(transfer, big.NewInt(assets))
		for _, donation := range []int64{1, 10, 1_000, 1_000_000} {
			raised := ImpactBps(transfer, big.NewInt(assets+donation))
			assert.LessOrEqual(t, raised.Cmp(base), 0, "assets=%d donation=%d", assets, donation)

			tolerance := base.Uint64()
			if ValidateImpact(transfer, big.NewInt(assets), tolerance) == nil {
				assert.NoError(t, ValidateImpact(transfer, big.NewInt(assets+donation), tolerance))
			}
		}
	}
}
