package protocol

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// OpType selects how a cross-chain transfer is accounted for
type OpType uint8

const (
	// OpUnknown is the zero tag; it is always rejected.
	OpUnknown OpType = iota
	// OpTransfer rebalances between chains without moving NAV on either side.
	OpTransfer
	// OpSync moves NAV by the transferred value, bounded by a tolerance.
	OpSync
)

// Valid reports whether o is Transfer or Sync
func (o OpType) Valid() bool {
	return o == OpTransfer || o == OpSync
}

func (o OpType) String() string {
	switch o {
	case OpUnknown:
		return "unknown"
	case OpTransfer:
		return "transfer"
	case OpSync:
		return "sync"
	}
	return fmt.Sprintf("invalid(%d)", uint8(o))
}

// ParseOpType accepts a name ("transfer", "sync") or a numeric tag.
// Numeric tags are returned even if invalid so that callers decide.
func ParseOpType(s string) (OpType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transfer":
		return OpTransfer, nil
	case "sync":
		return OpSync, nil
	case "unknown":
		return OpUnknown, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return OpUnknown, fmt.Errorf("invalid op type %q", s)
	}
	return OpType(n), nil
}

// DonateSentinel is the amount that turns a donate call into the snapshot phase.
var DonateSentinel = uint256.NewInt(1)

// IsSentinel reports whether amount requests the snapshot phase.
func IsSentinel(amount *uint256.Int) bool {
	return amount.Eq(DonateSentinel)
}

// SourceMessage travels with a deposit from the source chain
type SourceMessage struct {
	OpType                    OpType   `json:"op_type"`
	NavToleranceBps           uint64   `json:"nav_tolerance_bps"`
	ShouldUnwrapOnDestination bool     `json:"should_unwrap_on_destination"`
	SourceNativeAmount        *big.Int `json:"source_native_amount"`
}

// DestinationMessage is the parameter block of the donate call on the destination chain
type DestinationMessage struct {
	OpType             OpType `json:"op_type"`
	ShouldUnwrapNative bool   `json:"should_unwrap_native"`
}

// Call is one step of an instruction sequence
type Call struct {
	Target   common.Address `json:"target"`
	CallData hexutil.Bytes  `json:"call_data"`
	Value    *hexutil.Big   `json:"value,omitempty"`
}

// Instructions is the multicall payload delivered to the destination handler.
// The calls are, in order: snapshot donate, token transfer, drain leftover,
// finalize donate. Funds that cannot be delivered go to FallbackRecipient.
type Instructions struct {
	Calls             []Call         `json:"calls"`
	FallbackRecipient common.Address `json:"fallback_recipient"`
}

// DonateCall is the decoded donate(address,uint256,uint8,bool) call
type DonateCall struct {
	Token  common.Address
	Amount *uint256.Int
	Params DestinationMessage
}

// TransferCall is the decoded transfer(address,uint256) call
type TransferCall struct {
	To     common.Address
	Amount *uint256.Int
}

// DrainCall is the decoded drainLeftoverTokens(address,address) call
type DrainCall struct {
	Token       common.Address
	Destination common.Address
}
