// Package escrow derives the counterparty addresses that hold bridge refunds
// for a pool. The derivation is a pure function of the pool identity and the
// operation type, so the bridge, the relayer and the pool itself can all
// compute and verify it without a registry.
package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sharding-experiment/navpool/internal/protocol"
	"golang.org/x/crypto/sha3"
)

// SaltDomain separates escrow salts from any other CREATE2 salt of the pool.
const SaltDomain = "navpool.escrow.v1"

// InitCode stands for the creation code of the escrow contract. Only its hash
// enters the derivation.
var InitCode = []byte("navpool/escrow:forward-to-pool")

// Salt returns the CREATE2 salt for an operation type.
func Salt(op protocol.OpType) [32]byte {
	return crypto.Keccak256Hash([]byte(SaltDomain), []byte{byte(op)})
}

// initCodeHash hashes the creation code followed by its constructor arguments
// (pool, op), mirroring how constructor args are appended on deployment.
func initCodeHash(pool common.Address, op protocol.OpType) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(InitCode)
	h.Write(common.LeftPadBytes(pool.Bytes(), 32))
	h.Write(common.LeftPadBytes([]byte{byte(op)}, 32))
	return h.Sum(nil)
}

// Derive returns the escrow address of pool for op.
func Derive(pool common.Address, op protocol.OpType) common.Address {
	return crypto.CreateAddress2(pool, Salt(op), initCodeHash(pool, op))
}

// Verify reports whether candidate is the escrow of pool for op.
func Verify(pool common.Address, op protocol.OpType, candidate common.Address) bool {
	return candidate != (common.Address{}) && Derive(pool, op) == candidate
}

// Lookup finds which operation type candidate is the escrow of, if any.
func Lookup(pool common.Address, candidate common.Address) (protocol.OpType, bool) {
	for _, op := range []protocol.OpType{protocol.OpTransfer, protocol.OpSync} {
		if Verify(pool, op, candidate) {
			return op, true
		}
	}
	return protocol.OpUnknown, false
}
