package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Method selectors understood by the destination multicall handler.
var (
	DonateSelector   = selector("donate(address,uint256,uint8,bool)")
	TransferSelector = selector("transfer(address,uint256)")
	DrainSelector    = selector("drainLeftoverTokens(address,address)")
)

var (
	ErrShortCallData   = errors.New("call data shorter than selector")
	ErrUnknownSelector = errors.New("unknown selector")
)

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	addressT    = mustType("address")
	uint8T      = mustType("uint8")
	uint256T    = mustType("uint256")
	boolT       = mustType("bool")
	addressesT  = mustType("address[]")
	bytesArrT   = mustType("bytes[]")
	uint256ArrT = mustType("uint256[]")

	sourceMessageArgs      = abi.Arguments{{Type: uint8T}, {Type: uint256T}, {Type: boolT}, {Type: uint256T}}
	destinationMessageArgs = abi.Arguments{{Type: uint8T}, {Type: boolT}}
	donateArgs             = abi.Arguments{{Type: addressT}, {Type: uint256T}, {Type: uint8T}, {Type: boolT}}
	transferArgs           = abi.Arguments{{Type: addressT}, {Type: uint256T}}
	drainArgs              = abi.Arguments{{Type: addressT}, {Type: addressT}}
	instructionsArgs       = abi.Arguments{{Type: addressesT}, {Type: bytesArrT}, {Type: uint256ArrT}, {Type: addressT}}
)

// EncodeSourceMessage ABI-encodes m as (uint8,uint256,bool,uint256).
func EncodeSourceMessage(m SourceMessage) ([]byte, error) {
	native := m.SourceNativeAmount
	if native == nil {
		native = new(big.Int)
	}
	return sourceMessageArgs.Pack(uint8(m.OpType), new(big.Int).SetUint64(m.NavToleranceBps), m.ShouldUnwrapOnDestination, native)
}

// DecodeSourceMessage reverses EncodeSourceMessage.
func DecodeSourceMessage(data []byte) (SourceMessage, error) {
	values, err := sourceMessageArgs.Unpack(data)
	if err != nil {
		return SourceMessage{}, fmt.Errorf("decode source message: %w", err)
	}
	tolerance := values[1].(*big.Int)
	if !tolerance.IsUint64() {
		return SourceMessage{}, fmt.Errorf("decode source message: tolerance %s out of range", tolerance)
	}
	return SourceMessage{
		OpType:                    OpType(values[0].(uint8)),
		NavToleranceBps:           tolerance.Uint64(),
		ShouldUnwrapOnDestination: values[2].(bool),
		SourceNativeAmount:        values[3].(*big.Int),
	}, nil
}

// EncodeDestinationMessage ABI-encodes m as (uint8,bool).
func EncodeDestinationMessage(m DestinationMessage) ([]byte, error) {
	return destinationMessageArgs.Pack(uint8(m.OpType), m.ShouldUnwrapNative)
}

// DecodeDestinationMessage reverses EncodeDestinationMessage.
func DecodeDestinationMessage(data []byte) (DestinationMessage, error) {
	values, err := destinationMessageArgs.Unpack(data)
	if err != nil {
		return DestinationMessage{}, fmt.Errorf("decode destination message: %w", err)
	}
	return DestinationMessage{
		OpType:             OpType(values[0].(uint8)),
		ShouldUnwrapNative: values[1].(bool),
	}, nil
}

func withSelector(sel []byte, args []byte) []byte {
	return append(append([]byte{}, sel...), args...)
}

// EncodeDonate builds calldata for donate(token, amount, params).
func EncodeDonate(token common.Address, amount *uint256.Int, params DestinationMessage) ([]byte, error) {
	args, err := donateArgs.Pack(token, amount.ToBig(), uint8(params.OpType), params.ShouldUnwrapNative)
	if err != nil {
		return nil, err
	}
	return withSelector(DonateSelector, args), nil
}

// EncodeTransfer builds calldata for transfer(to, amount).
func EncodeTransfer(to common.Address, amount *uint256.Int) ([]byte, error) {
	args, err := transferArgs.Pack(to, amount.ToBig())
	if err != nil {
		return nil, err
	}
	return withSelector(TransferSelector, args), nil
}

// EncodeDrain builds calldata for drainLeftoverTokens(token, destination).
func EncodeDrain(token, destination common.Address) ([]byte, error) {
	args, err := drainArgs.Pack(token, destination)
	if err != nil {
		return nil, err
	}
	return withSelector(DrainSelector, args), nil
}

// Selector returns the 4-byte selector of calldata.
func Selector(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrShortCallData
	}
	return data[:4], nil
}

func unpackCall(sel []byte, args abi.Arguments, data []byte) ([]interface{}, error) {
	got, err := Selector(data)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(got, sel) {
		return nil, fmt.Errorf("%w: %x", ErrUnknownSelector, got)
	}
	return args.Unpack(data[4:])
}

func toUint256(x *big.Int) (*uint256.Int, error) {
	v, overflow := uint256.FromBig(x)
	if overflow {
		return nil, fmt.Errorf("amount %s overflows uint256", x)
	}
	return v, nil
}

// DecodeDonate decodes donate calldata.
func DecodeDonate(data []byte) (DonateCall, error) {
	values, err := unpackCall(DonateSelector, donateArgs, data)
	if err != nil {
		return DonateCall{}, fmt.Errorf("decode donate: %w", err)
	}
	amount, err := toUint256(values[1].(*big.Int))
	if err != nil {
		return DonateCall{}, err
	}
	return DonateCall{
		Token:  values[0].(common.Address),
		Amount: amount,
		Params: DestinationMessage{
			OpType:             OpType(values[2].(uint8)),
			ShouldUnwrapNative: values[3].(bool),
		},
	}, nil
}

// DecodeTransfer decodes transfer calldata.
func DecodeTransfer(data []byte) (TransferCall, error) {
	values, err := unpackCall(TransferSelector, transferArgs, data)
	if err != nil {
		return TransferCall{}, fmt.Errorf("decode transfer: %w", err)
	}
	amount, err := toUint256(values[1].(*big.Int))
	if err != nil {
		return TransferCall{}, err
	}
	return TransferCall{To: values[0].(common.Address), Amount: amount}, nil
}

// DecodeDrain decodes drainLeftoverTokens calldata.
func DecodeDrain(data []byte) (DrainCall, error) {
	values, err := unpackCall(DrainSelector, drainArgs, data)
	if err != nil {
		return DrainCall{}, fmt.Errorf("decode drain: %w", err)
	}
	return DrainCall{Token: values[0].(common.Address), Destination: values[1].(common.Address)}, nil
}

// EncodeInstructions ABI-encodes the multicall payload as
// (address[] targets, bytes[] callData, uint256[] values, address fallback).
func EncodeInstructions(in Instructions) ([]byte, error) {
	targets := make([]common.Address, len(in.Calls))
	data := make([][]byte, len(in.Calls))
	values := make([]*big.Int, len(in.Calls))
	for i, c := range in.Calls {
		targets[i] = c.Target
		data[i] = c.CallData
		values[i] = new(big.Int)
		if c.Value != nil {
			values[i] = c.Value.ToInt()
		}
	}
	return instructionsArgs.Pack(targets, data, values, in.FallbackRecipient)
}

// DecodeInstructions reverses EncodeInstructions.
func DecodeInstructions(payload []byte) (Instructions, error) {
	values, err := instructionsArgs.Unpack(payload)
	if err != nil {
		return Instructions{}, fmt.Errorf("decode instructions: %w", err)
	}
	targets := values[0].([]common.Address)
	data := values[1].([][]byte)
	amounts := values[2].([]*big.Int)
	if len(targets) != len(data) || len(targets) != len(amounts) {
		return Instructions{}, fmt.Errorf("decode instructions: length mismatch %d/%d/%d", len(targets), len(data), len(amounts))
	}

	in := Instructions{
		Calls:             make([]Call, len(targets)),
		FallbackRecipient: values[3].(common.Address),
	}
	for i := range targets {
		in.Calls[i] = Call{Target: targets[i], CallData: data[i]}
		if amounts[i].Sign() != 0 {
			in.Calls[i].Value = (*hexutil.Big)(amounts[i])
		}
	}
	return in, nil
}
