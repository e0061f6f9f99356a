package ledger

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedAmount_ZeroValue(t *testing.T) {
	var a SignedAmount
	assert.True(t, a.IsZero())
	assert.Equal(t, "0", a.String())
	assert.Equal(t, common.Hash{}, a.Hash())
	assert.True(t, a.Uint().IsZero())
}

func TestSignedAmount_ZeroCrossing(t *testing.T) {
	tests := []struct {
		name    string
		a, b    int64
		wantAdd int64
		wantSub int64
		addSign int
	}{
		{"negative to positive", -5, 10, 5, -15, 1},
		{"positive to negative", 5, -10, -5, 15, -1},
		{"exactly zero from below", -7, 7, 0, -14, 0},
		{"exactly zero from above", 7, -7, 0, 14, 0},
		{"one below zero", 0, -1, -1, 1, -1},
		{"one above zero", 0, 1, 1, -1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := NewSigned(tt.a), NewSigned(tt.b)
			assert.Equal(t, big.NewInt(tt.wantAdd), a.Add(b).Big())
			assert.Equal(t, big.NewInt(tt.wantSub), a.Sub(b).Big())
			assert.Equal(t, tt.addSign, a.Add(b).Sign())

			sum, err := a.CheckedAdd(b)
			require.NoError(t, err)
			assert.Equal(t, 0, sum.Cmp(a.Add(b)))
		})
	}
}

func TestSignedAmount_Saturation(t *testing.T) {
	one := NewSigned(1)

	assert.Equal(t, 0, MaxSigned.Add(one).Cmp(MaxSigned))
	assert.Equal(t, 0, MinSigned.Sub(one).Cmp(MinSigned))
	assert.Equal(t, 0, MinSigned.Neg().Cmp(MaxSigned))
	assert.Equal(t, 0, MaxSigned.Neg().Cmp(MinSigned.Add(one)))

	_, err := MaxSigned.CheckedAdd(one)
	assert.ErrorIs(t, err, ErrOverflow)
	_, err = MinSigned.CheckedSub(one)
	assert.ErrorIs(t, err, ErrOverflow)

	v, err := MaxSigned.CheckedSub(one)
	require.NoError(t, err)
	assert.Equal(t, -1, v.Cmp(MaxSigned))
}

func TestSignedAmount_FromBigClamps(t *testing.T) {
	huge := new(big.Int).Lsh(common.Big1, 300)
	assert.Equal(t, 0, SignedFromBig(huge).Cmp(MaxSigned))
	assert.Equal(t, 0, SignedFromBig(new(big.Int).Neg(huge)).Cmp(MinSigned))
	assert.True(t, SignedFromBig(nil).IsZero())

	maxU := new(uint256.Int).SetAllOne()
	assert.Equal(t, 0, SignedFromUint(maxU).Cmp(MaxSigned))
	assert.Equal(t, int64(99), SignedFromUint(uint256.NewInt(99)).Big().Int64())
}

func TestSignedAmount_HashRoundTrip(t *testing.T) {
	for _, v := range []SignedAmount{Zero, NewSigned(1), NewSigned(-1), MaxSigned, MinSigned, NewSigned(-123456789)} {
		assert.Equal(t, 0, v.Cmp(SignedFromHash(v.Hash())), "value %s", v)
	}
	// -1 is all ones in two's complement
	assert.Equal(t, common.HexToHash("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"), NewSigned(-1).Hash())
}

func TestSignedAmount_Helpers(t *testing.T) {
	assert.True(t, NewSigned(-3).PositivePart().IsZero())
	assert.Equal(t, int64(3), NewSigned(3).PositivePart().Big().Int64())
	assert.Equal(t, int64(-3), Min(NewSigned(-3), NewSigned(2)).Big().Int64())
	assert.Equal(t, int64(2), Min(NewSigned(5), NewSigned(2)).Big().Int64())
	assert.True(t, NewSigned(-3).Uint().IsZero())
	assert.Equal(t, uint64(3), NewSigned(3).Uint().Uint64())
}

func TestSignedAmount_JSON(t *testing.T) {
	data, err := json.Marshal(NewSigned(-42))
	require.NoError(t, err)
	assert.Equal(t, `"-42"`, string(data))

	var a SignedAmount
	require.NoError(t, json.Unmarshal([]byte(`"1000"`), &a))
	assert.Equal(t, int64(1000), a.Big().Int64())

	tooBig := `"` + new(big.Int).Lsh(common.Big1, 255).String() + `"`
	assert.Error(t, json.Unmarshal([]byte(tooBig), &a))
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &a))
}

func TestSignedAmount_Immutable(t *testing.T) {
	a := NewSigned(10)
	b := a.Big()
	b.SetInt64(99)
	assert.Equal(t, int64(10), a.Big().Int64())
}
