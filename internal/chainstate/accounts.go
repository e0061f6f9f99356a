package chainstate

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Token balances follow the ERC-20 storage layout of the token account:
// balances live in the mapping at slot 0, total supply in slot 2.
var (
	balancesSlot    = common.Hash{}
	totalSupplySlot = common.BigToHash(common.Big2)
)

// MappingSlot returns the storage slot of key in a Solidity mapping rooted at slot.
func MappingSlot(key common.Hash, slot common.Hash) common.Hash {
	return crypto.Keccak256Hash(key.Bytes(), slot.Bytes())
}

func balanceSlot(holder common.Address) common.Hash {
	return MappingSlot(common.BytesToHash(holder.Bytes()), balancesSlot)
}

// HashToUint converts a storage word to an unsigned integer.
func HashToUint(h common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes(h.Bytes())
}

// UintToHash converts an unsigned integer to a storage word.
func UintToHash(v *uint256.Int) common.Hash {
	return common.Hash(v.Bytes32())
}

// TokenBalance returns holder's balance of token
func (s *State) TokenBalance(token, holder common.Address) *uint256.Int {
	return HashToUint(s.stateDB.GetState(token, balanceSlot(holder)))
}

// TokenSupply returns the total supply recorded on token
func (s *State) TokenSupply(token common.Address) *uint256.Int {
	return HashToUint(s.stateDB.GetState(token, totalSupplySlot))
}

func (s *State) setTokenBalance(token, holder common.Address, v *uint256.Int) {
	s.touch(token)
	s.stateDB.SetState(token, balanceSlot(holder), UintToHash(v))
}

// MintToken credits amount of token to holder, growing the token supply
func (s *State) MintToken(token, holder common.Address, amount *uint256.Int) error {
	supply, overflow := new(uint256.Int).AddOverflow(s.TokenSupply(token), amount)
	if overflow {
		return ErrOverflow
	}
	s.touch(token)
	s.stateDB.SetState(token, totalSupplySlot, UintToHash(supply))
	s.setTokenBalance(token, holder, new(uint256.Int).Add(s.TokenBalance(token, holder), amount))
	return nil
}

// BurnToken removes amount of token from holder, shrinking the token supply
func (s *State) BurnToken(token, holder common.Address, amount *uint256.Int) error {
	bal := s.TokenBalance(token, holder)
	if bal.Lt(amount) {
		return ErrInsufficientFunds
	}
	s.setTokenBalance(token, holder, new(uint256.Int).Sub(bal, amount))
	supply := s.TokenSupply(token)
	if supply.Lt(amount) {
		supply = new(uint256.Int)
	} else {
		supply = new(uint256.Int).Sub(supply, amount)
	}
	s.stateDB.SetState(token, totalSupplySlot, UintToHash(supply))
	return nil
}

// TransferToken moves amount of token from one holder to another
func (s *State) TransferToken(token, from, to common.Address, amount *uint256.Int) error {
	bal := s.TokenBalance(token, from)
	if bal.Lt(amount) {
		return ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	s.setTokenBalance(token, from, new(uint256.Int).Sub(bal, amount))
	s.setTokenBalance(token, to, new(uint256.Int).Add(s.TokenBalance(token, to), amount))
	return nil
}

// NativeBalance returns the native coin balance of addr
func (s *State) NativeBalance(addr common.Address) *uint256.Int {
	return s.stateDB.GetBalance(addr).Clone()
}

// AddNative credits native coin to addr
func (s *State) AddNative(addr common.Address, amount *uint256.Int) {
	s.stateDB.AddBalance(addr, amount, tracing.BalanceChangeTransfer)
}

// SubNative debits native coin from addr
func (s *State) SubNative(addr common.Address, amount *uint256.Int) error {
	if s.stateDB.GetBalance(addr).Lt(amount) {
		return ErrInsufficientFunds
	}
	s.stateDB.SubBalance(addr, amount, tracing.BalanceChangeTransfer)
	return nil
}

// GetStorage reads a raw storage word
func (s *State) GetStorage(addr common.Address, key common.Hash) common.Hash {
	return s.stateDB.GetState(addr, key)
}

// SetStorage writes a raw storage word
func (s *State) SetStorage(addr common.Address, key, value common.Hash) {
	s.touch(addr)
	s.stateDB.SetState(addr, key, value)
}

// GetTransient reads an EIP-1153 transient word
func (s *State) GetTransient(addr common.Address, key common.Hash) common.Hash {
	return s.stateDB.GetTransientState(addr, key)
}

// SetTransient writes an EIP-1153 transient word; it is gone after the transaction
func (s *State) SetTransient(addr common.Address, key, value common.Hash) {
	s.stateDB.SetTransientState(addr, key, value)
}

// AddLog records an event of the running transaction
func (s *State) AddLog(l *types.Log) {
	s.stateDB.AddLog(l)
}

// touch gives contract-like accounts a non-zero nonce so they are never
// treated as empty and pruned.
func (s *State) touch(addr common.Address) {
	if s.stateDB.GetNonce(addr) == 0 {
		s.stateDB.SetNonce(addr, 1, tracing.NonceChangeUnspecified)
	}
}

// StateRoot returns the root the state would commit to right now
func (s *State) StateRoot() common.Hash {
	return s.stateDB.IntermediateRoot(false)
}
