package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/protocol"
)

type jsonRPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type callArgs struct {
	From common.Address  `json:"from"`
	To   *common.Address `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

// ERC-20 views answered by eth_call against any token account, the pool's
// share token included.
var (
	balanceOfSelector   = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	totalSupplySelector = crypto.Keccak256([]byte("totalSupply()"))[:4]
)

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var result interface{}
	var rpcErr *rpcError

	param := func(i int, v interface{}, msg string) bool {
		if len(req.Params) <= i || json.Unmarshal(req.Params[i], v) != nil {
			rpcErr = &rpcError{-32602, msg}
			return false
		}
		return true
	}

	switch req.Method {
	case "eth_chainId":
		result = hexutil.Uint64(s.chainID)

	case "eth_blockNumber":
		result = hexutil.Uint64(s.chain.Height())

	case "eth_getBalance":
		var addr common.Address
		if !param(0, &addr, "invalid address parameter") {
			break
		}
		var bal *uint256.Int
		s.view(func() { bal = s.state.NativeBalance(addr) })
		result = (*hexutil.Big)(bal.ToBig())

	case "eth_getStorageAt":
		var addr common.Address
		var key common.Hash
		if !param(0, &addr, "invalid address parameter") || !param(1, &key, "invalid storage key") {
			break
		}
		var word common.Hash
		s.view(func() { word = s.state.GetStorage(addr, key) })
		result = word

	case "eth_call":
		var args callArgs
		if !param(0, &args, "invalid call parameters") {
			break
		}
		if args.To == nil {
			rpcErr = &rpcError{-32000, "to address required"}
			break
		}
		ret, err := s.tokenView(*args.To, args.Data)
		if err != nil {
			rpcErr = &rpcError{-32000, err.Error()}
			break
		}
		result = hexutil.Bytes(ret)

	case "eth_getTransactionReceipt":
		var hash common.Hash
		if !param(0, &hash, "invalid transaction hash") {
			break
		}
		if receipt := s.receipts.GetReceiptByHash(hash); receipt != nil {
			result = receipt
		}

	case "eth_getBlockByNumber":
		var tag string
		if !param(0, &tag, "invalid block number") {
			break
		}
		block := s.chain.Latest()
		if tag != "latest" && tag != "pending" {
			n, err := hexutil.DecodeUint64(tag)
			if err != nil {
				rpcErr = &rpcError{-32602, "invalid block number"}
				break
			}
			block = s.chain.Block(n)
		}
		if block != nil {
			result = rpcBlock(block)
		}

	case "eth_gasPrice":
		result = hexutil.Uint64(0)

	default:
		rpcErr = &rpcError{-32601, "method not found: " + req.Method}
	}

	resp := jsonRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		Error:   rpcErr,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// tokenView answers balanceOf and totalSupply for the token at addr
func (s *Server) tokenView(token common.Address, data []byte) ([]byte, error) {
	sel, err := protocol.Selector(data)
	if err != nil {
		return nil, err
	}
	var v *uint256.Int
	switch {
	case bytes.Equal(sel, balanceOfSelector) && len(data) >= 36:
		holder := common.BytesToAddress(data[4:36])
		s.view(func() { v = s.state.TokenBalance(token, holder) })
	case bytes.Equal(sel, totalSupplySelector):
		s.view(func() { v = s.state.TokenSupply(token) })
	default:
		return nil, fmt.Errorf("unsupported call %x", sel)
	}
	word := v.Bytes32()
	return word[:], nil
}

func rpcBlock(b *protocol.PoolBlock) map[string]interface{} {
	hash := b.Hash()
	return map[string]interface{}{
		"number":       hexutil.Uint64(b.Height),
		"hash":         common.Hash(hash).Hex(),
		"parentHash":   common.Hash(b.PrevHash).Hex(),
		"stateRoot":    b.StateRoot.Hex(),
		"timestamp":    hexutil.Uint64(b.Timestamp),
		"transactions": b.TxIDs,
	}
}
