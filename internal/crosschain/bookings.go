package crosschain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/ledger"
)

// Outbound Transfer bookings are kept per deposit in pool storage until the
// deposit is refunded and its escrow claimed.
var (
	bookingListSlot    = crypto.Keccak256Hash([]byte("navpool.transfer.pending"))
	bookingIndexSlot   = crypto.Keccak256Hash([]byte("navpool.transfer.index"))
	bookingTokenSlot   = crypto.Keccak256Hash([]byte("navpool.transfer.token"))
	bookingSupplySlot  = crypto.Keccak256Hash([]byte("navpool.transfer.supply"))
	bookingBalanceSlot = crypto.Keccak256Hash([]byte("navpool.transfer.balance"))
)

// booking is what the outbound leg of one transfer did to the virtual ledger:
// shares taken out of virtual supply and value added to the base virtual balance.
type booking struct {
	ID      common.Hash // deposit id hash
	Token   common.Address
	Supply  ledger.SignedAmount
	Balance ledger.SignedAmount
}

type bookings struct {
	state *chainstate.State
	owner common.Address
}

func pendingSlot(i uint64) common.Hash {
	base := new(big.Int).SetBytes(crypto.Keccak256(bookingListSlot.Bytes()))
	return common.BigToHash(base.Add(base, new(big.Int).SetUint64(i)))
}

func (b bookings) get(key common.Hash) common.Hash {
	return b.state.GetStorage(b.owner, key)
}

func (b bookings) set(key, v common.Hash) {
	b.state.SetStorage(b.owner, key, v)
}

func (b bookings) len() uint64 {
	return chainstate.HashToUint(b.get(bookingListSlot)).Uint64()
}

// add appends bk to the pending list. Index slots hold position+1.
func (b bookings) add(bk booking) {
	n := b.len()
	b.set(pendingSlot(n), bk.ID)
	b.set(chainstate.MappingSlot(bk.ID, bookingIndexSlot), chainstate.UintToHash(uint256.NewInt(n+1)))
	b.set(chainstate.MappingSlot(bk.ID, bookingTokenSlot), common.BytesToHash(bk.Token.Bytes()))
	b.set(chainstate.MappingSlot(bk.ID, bookingSupplySlot), bk.Supply.Hash())
	b.set(chainstate.MappingSlot(bk.ID, bookingBalanceSlot), bk.Balance.Hash())
	b.set(bookingListSlot, chainstate.UintToHash(uint256.NewInt(n+1)))
}

func (b bookings) load(id common.Hash) booking {
	return booking{
		ID:      id,
		Token:   common.BytesToAddress(b.get(chainstate.MappingSlot(id, bookingTokenSlot)).Bytes()),
		Supply:  ledger.SignedFromHash(b.get(chainstate.MappingSlot(id, bookingSupplySlot))),
		Balance: ledger.SignedFromHash(b.get(chainstate.MappingSlot(id, bookingBalanceSlot))),
	}
}

// pending lists every booking not yet unwound, oldest first until one is removed.
func (b bookings) pending() []booking {
	n := b.len()
	out := make([]booking, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, b.load(b.get(pendingSlot(i))))
	}
	return out
}

// remove drops id from the pending list by moving the last entry into its place.
func (b bookings) remove(id common.Hash) {
	idxKey := chainstate.MappingSlot(id, bookingIndexSlot)
	pos := chainstate.HashToUint(b.get(idxKey)).Uint64()
	if pos == 0 {
		return
	}
	last := b.len() - 1
	if pos-1 != last {
		moved := b.get(pendingSlot(last))
		b.set(pendingSlot(pos-1), moved)
		b.set(chainstate.MappingSlot(moved, bookingIndexSlot), chainstate.UintToHash(uint256.NewInt(pos)))
	}
	b.set(pendingSlot(last), common.Hash{})
	b.set(bookingListSlot, chainstate.UintToHash(uint256.NewInt(last)))
	for _, slot := range []common.Hash{bookingIndexSlot, bookingTokenSlot, bookingSupplySlot, bookingBalanceSlot} {
		b.set(chainstate.MappingSlot(id, slot), common.Hash{})
	}
}
