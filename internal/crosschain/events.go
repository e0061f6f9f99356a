package crosschain

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/protocol"
)

var (
	// TokensReceivedTopic is emitted by a successful finalize.
	TokensReceivedTopic = crypto.Keccak256Hash([]byte("TokensReceived(address,uint256,uint256,uint8)"))
	// TransferInitiatedTopic is emitted for every outbound transfer.
	TransferInitiatedTopic = crypto.Keccak256Hash([]byte("TransferInitiated(bytes32,uint256,address,uint256,uint8)"))
	// EscrowClaimedTopic is emitted when escrowed refunds return to the pool.
	EscrowClaimedTopic = crypto.Keccak256Hash([]byte("EscrowClaimed(address,address,uint256,uint8)"))
)

var errNotReceived = errors.New("not a TokensReceived log")

var (
	uint256Ty, _ = abi.NewType("uint256", "", nil)
	uint8Ty, _   = abi.NewType("uint8", "", nil)
	addressTy, _ = abi.NewType("address", "", nil)

	receivedData  = abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}, {Type: uint8Ty}}
	initiatedData = abi.Arguments{{Type: addressTy}, {Type: uint256Ty}, {Type: uint8Ty}}
	claimedData   = abi.Arguments{{Type: uint256Ty}, {Type: uint8Ty}}
)

// Received is a decoded TokensReceived log.
type Received struct {
	Token       common.Address
	Amount      *big.Int
	AmountDelta *big.Int
	OpType      protocol.OpType
}

func tokensReceivedLog(pool, token common.Address, amount, delta *uint256.Int, op protocol.OpType) *types.Log {
	data, _ := receivedData.Pack(amount.ToBig(), delta.ToBig(), uint8(op))
	return &types.Log{
		Address: pool,
		Topics:  []common.Hash{TokensReceivedTopic, common.BytesToHash(token.Bytes())},
		Data:    data,
	}
}

func transferInitiatedLog(pool common.Address, depositID string, destination uint64, token common.Address, amount *uint256.Int, op protocol.OpType) *types.Log {
	data, _ := initiatedData.Pack(token, amount.ToBig(), uint8(op))
	return &types.Log{
		Address: pool,
		Topics: []common.Hash{
			TransferInitiatedTopic,
			crypto.Keccak256Hash([]byte(depositID)),
			common.BigToHash(new(big.Int).SetUint64(destination)),
		},
		Data: data,
	}
}

func escrowClaimedLog(pool, escrowAddr, token common.Address, amount *uint256.Int, op protocol.OpType) *types.Log {
	data, _ := claimedData.Pack(amount.ToBig(), uint8(op))
	return &types.Log{
		Address: pool,
		Topics:  []common.Hash{EscrowClaimedTopic, common.BytesToHash(escrowAddr.Bytes()), common.BytesToHash(token.Bytes())},
		Data:    data,
	}
}

// ParseReceived decodes a TokensReceived log.
func ParseReceived(l *types.Log) (*Received, error) {
	if len(l.Topics) != 2 || l.Topics[0] != TokensReceivedTopic {
		return nil, errNotReceived
	}
	vals, err := receivedData.Unpack(l.Data)
	if err != nil {
		return nil, err
	}
	return &Received{
		Token:       common.BytesToAddress(l.Topics[1].Bytes()),
		Amount:      vals[0].(*big.Int),
		AmountDelta: vals[1].(*big.Int),
		OpType:      protocol.OpType(vals[2].(uint8)),
	}, nil
}
