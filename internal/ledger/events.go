package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Event topics emitted by the ledger.
var (
	VirtualBalanceUpdatedTopic = crypto.Keccak256Hash([]byte("VirtualBalanceUpdated(address,int256,int256)"))
	VirtualSupplyUpdatedTopic  = crypto.Keccak256Hash([]byte("VirtualSupplyUpdated(int256,int256)"))
)

// ErrNotLedgerEvent is returned by ParseEvent for foreign logs.
var ErrNotLedgerEvent = errors.New("not a ledger event")

// Field names which ledger field an event describes.
type Field string

const (
	FieldVirtualBalance Field = "virtual_balance"
	FieldVirtualSupply  Field = "virtual_supply"
)

// Event is the decoded form of a ledger log.
type Event struct {
	Field Field          `json:"field"`
	Token common.Address `json:"token,omitempty"`
	Delta SignedAmount   `json:"delta"`
	Value SignedAmount   `json:"value"`
}

var deltaValueArgs = func() abi.Arguments {
	int256, err := abi.NewType("int256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "delta", Type: int256}, {Name: "value", Type: int256}}
}()

func packDeltaValue(delta, value SignedAmount) []byte {
	data, err := deltaValueArgs.Pack(delta.Big(), value.Big())
	if err != nil {
		// both operands are within int256 by construction
		panic(err)
	}
	return data
}

func balanceEvent(owner, token common.Address, delta, value SignedAmount) *types.Log {
	return &types.Log{
		Address: owner,
		Topics:  []common.Hash{VirtualBalanceUpdatedTopic, common.BytesToHash(token.Bytes())},
		Data:    packDeltaValue(delta, value),
	}
}

func supplyEvent(owner common.Address, delta, value SignedAmount) *types.Log {
	return &types.Log{
		Address: owner,
		Topics:  []common.Hash{VirtualSupplyUpdatedTopic},
		Data:    packDeltaValue(delta, value),
	}
}

// ParseEvent decodes a ledger log.
func ParseEvent(l *types.Log) (*Event, error) {
	if len(l.Topics) == 0 {
		return nil, ErrNotLedgerEvent
	}
	ev := &Event{}
	switch l.Topics[0] {
	case VirtualBalanceUpdatedTopic:
		if len(l.Topics) != 2 {
			return nil, fmt.Errorf("virtual balance event: want 2 topics, got %d", len(l.Topics))
		}
		ev.Field = FieldVirtualBalance
		ev.Token = common.BytesToAddress(l.Topics[1].Bytes())
	case VirtualSupplyUpdatedTopic:
		ev.Field = FieldVirtualSupply
	default:
		return nil, ErrNotLedgerEvent
	}

	values, err := deltaValueArgs.Unpack(l.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack ledger event: %w", err)
	}
	ev.Delta = SignedFromBig(values[0].(*big.Int))
	ev.Value = SignedFromBig(values[1].(*big.Int))
	return ev, nil
}

// ParseEvents decodes every ledger log in logs, skipping others.
func ParseEvents(logs []*types.Log) []*Event {
	var events []*Event
	for _, l := range logs {
		if ev, err := ParseEvent(l); err == nil {
			events = append(events, ev)
		}
	}
	return events
}
