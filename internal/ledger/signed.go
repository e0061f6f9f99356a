package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
)

// ErrOverflow is returned by checked arithmetic leaving the int256 range.
var ErrOverflow = errors.New("int256 overflow")

var (
	maxInt256 = new(big.Int).Sub(new(big.Int).Lsh(common.Big1, 255), common.Big1)
	minInt256 = new(big.Int).Neg(new(big.Int).Lsh(common.Big1, 255))
)

// SignedAmount is an immutable signed 256-bit integer with the range of a
// Solidity int256. The zero value is zero.
//
// Add, Sub and Neg saturate at the range bounds; CheckedAdd and CheckedSub
// report ErrOverflow instead. Ledger mutations always use the checked forms.
type SignedAmount struct {
	v *big.Int
}

// Zero is the zero amount.
var Zero = SignedAmount{}

// MaxSigned and MinSigned are the int256 bounds.
var (
	MaxSigned = SignedAmount{v: maxInt256}
	MinSigned = SignedAmount{v: minInt256}
)

// NewSigned returns x as a SignedAmount.
func NewSigned(x int64) SignedAmount {
	return SignedAmount{v: big.NewInt(x)}
}

// SignedFromBig clamps x into the int256 range.
func SignedFromBig(x *big.Int) SignedAmount {
	if x == nil {
		return Zero
	}
	return clamp(new(big.Int).Set(x))
}

// SignedFromUint converts an unsigned amount, clamping at MaxSigned.
func SignedFromUint(x *uint256.Int) SignedAmount {
	if x == nil {
		return Zero
	}
	return clamp(x.ToBig())
}

// SignedFromHash decodes a two's complement storage word.
func SignedFromHash(h common.Hash) SignedAmount {
	return SignedAmount{v: math.S256(new(big.Int).SetBytes(h.Bytes()))}
}

func clamp(x *big.Int) SignedAmount {
	switch {
	case x.Cmp(maxInt256) > 0:
		return MaxSigned
	case x.Cmp(minInt256) < 0:
		return MinSigned
	}
	return SignedAmount{v: x}
}

func inRange(x *big.Int) bool {
	return x.Cmp(maxInt256) <= 0 && x.Cmp(minInt256) >= 0
}

func (a SignedAmount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the value.
func (a SignedAmount) Big() *big.Int {
	return new(big.Int).Set(a.big())
}

// Hash encodes the value as a two's complement storage word.
func (a SignedAmount) Hash() common.Hash {
	return common.BigToHash(math.U256(a.Big()))
}

// Sign returns -1, 0 or +1.
func (a SignedAmount) Sign() int {
	return a.big().Sign()
}

func (a SignedAmount) IsZero() bool     { return a.Sign() == 0 }
func (a SignedAmount) IsPositive() bool { return a.Sign() > 0 }
func (a SignedAmount) IsNegative() bool { return a.Sign() < 0 }

// Cmp compares a and b.
func (a SignedAmount) Cmp(b SignedAmount) int {
	return a.big().Cmp(b.big())
}

// Add returns a+b, saturating at the int256 bounds.
func (a SignedAmount) Add(b SignedAmount) SignedAmount {
	return clamp(new(big.Int).Add(a.big(), b.big()))
}

// Sub returns a-b, saturating at the int256 bounds.
func (a SignedAmount) Sub(b SignedAmount) SignedAmount {
	return clamp(new(big.Int).Sub(a.big(), b.big()))
}

// Neg returns -a. Negating MinSigned saturates to MaxSigned.
func (a SignedAmount) Neg() SignedAmount {
	return clamp(new(big.Int).Neg(a.big()))
}

// CheckedAdd returns a+b or ErrOverflow.
func (a SignedAmount) CheckedAdd(b SignedAmount) (SignedAmount, error) {
	sum := new(big.Int).Add(a.big(), b.big())
	if !inRange(sum) {
		return Zero, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return SignedAmount{v: sum}, nil
}

// CheckedSub returns a-b or ErrOverflow.
func (a SignedAmount) CheckedSub(b SignedAmount) (SignedAmount, error) {
	diff := new(big.Int).Sub(a.big(), b.big())
	if !inRange(diff) {
		return Zero, fmt.Errorf("%w: %s - %s", ErrOverflow, a, b)
	}
	return SignedAmount{v: diff}, nil
}

// PositivePart returns max(a, 0).
func (a SignedAmount) PositivePart() SignedAmount {
	if a.Sign() <= 0 {
		return Zero
	}
	return a
}

// Min returns the smaller of a and b.
func Min(a, b SignedAmount) SignedAmount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Uint returns the value as an unsigned amount. Negative values yield zero.
func (a SignedAmount) Uint() *uint256.Int {
	if a.Sign() <= 0 {
		return new(uint256.Int)
	}
	u, _ := uint256.FromBig(a.big())
	return u
}

func (a SignedAmount) String() string {
	return a.big().String()
}

// MarshalJSON encodes the value as a decimal string.
func (a SignedAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a decimal string, rejecting values outside int256.
func (a *SignedAmount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid signed amount %q", s)
	}
	if !inRange(x) {
		return fmt.Errorf("%w: %s", ErrOverflow, s)
	}
	a.v = x
	return nil
}
