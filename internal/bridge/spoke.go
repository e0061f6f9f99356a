package bridge

import (
	"errors"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/escrow"
)

var (
	// ErrAlreadySettled is returned when a deposit is filled or refunded twice.
	ErrAlreadySettled = errors.New("deposit already settled")
	// ErrUnknownDeposit is returned when refunding a deposit the spoke never locked.
	ErrUnknownDeposit = errors.New("deposit not in custody")
)

var (
	settledSlot = crypto.Keccak256Hash([]byte("navpool.bridge.settled"))
	lockedSlot  = crypto.Keccak256Hash([]byte("navpool.bridge.locked"))
)

// DepositHash is the storage key of a deposit id.
func DepositHash(id string) common.Hash {
	return crypto.Keccak256Hash([]byte(id))
}

func depositKey(base common.Hash, id string) common.Hash {
	return chainstate.MappingSlot(DepositHash(id), base)
}

// custodyHash commits to the fields a refund acts on.
func custodyHash(d *Deposit) common.Hash {
	var amount [32]byte
	if d.InputAmount != nil {
		amount = d.InputAmount.Bytes32()
	}
	return crypto.Keccak256Hash(
		[]byte(d.ID),
		new(big.Int).SetUint64(d.OriginChainID).Bytes(),
		new(big.Int).SetUint64(d.DestinationChainID).Bytes(),
		d.Depositor.Bytes(),
		d.RefundAddress.Bytes(),
		d.InputToken.Bytes(),
		amount[:],
	)
}

// settle marks deposit id as done on account, failing if it already was.
func settle(state *chainstate.State, account common.Address, id string) error {
	key := depositKey(settledSlot, id)
	if state.GetStorage(account, key) != (common.Hash{}) {
		return fmt.Errorf("%w: %s", ErrAlreadySettled, id)
	}
	state.SetStorage(account, key, common.BigToHash(common.Big1))
	return nil
}

// SpokePool holds deposited tokens in custody on the origin chain until the
// deposit is filled elsewhere or refunded.
type SpokePool struct {
	state   *chainstate.State
	address common.Address
}

// NewSpokePool creates the custody account at address
func NewSpokePool(state *chainstate.State, address common.Address) *SpokePool {
	return &SpokePool{state: state, address: address}
}

// Address returns the custody account
func (s *SpokePool) Address() common.Address {
	return s.address
}

// Lock takes the deposit's input tokens from the depositor and records the
// custody under the deposit id. Must run inside State.Execute.
func (s *SpokePool) Lock(d *Deposit) error {
	if d.OriginChainID != s.state.ChainID() {
		return fmt.Errorf("deposit %s originates on chain %d, not %d", d.ID, d.OriginChainID, s.state.ChainID())
	}
	key := depositKey(lockedSlot, d.ID)
	if s.state.GetStorage(s.address, key) != (common.Hash{}) {
		return fmt.Errorf("%w: %s already locked", ErrAlreadySettled, d.ID)
	}
	if err := s.state.TransferToken(d.InputToken, d.Depositor, s.address, d.InputAmount); err != nil {
		return fmt.Errorf("lock deposit %s: %w", d.ID, err)
	}
	s.state.SetStorage(s.address, key, custodyHash(d))
	return nil
}

// Locked reports whether the spoke holds d in custody exactly as described.
func (s *SpokePool) Locked(d *Deposit) bool {
	stored := s.state.GetStorage(s.address, depositKey(lockedSlot, d.ID))
	return stored != (common.Hash{}) && stored == custodyHash(d)
}

// Refunded reports whether the deposit with id hash h was refunded here.
func (s *SpokePool) Refunded(h common.Hash) bool {
	return s.state.GetStorage(s.address, chainstate.MappingSlot(h, settledSlot)) != (common.Hash{})
}

// Refund returns the deposit's input tokens to its refund address, which must
// be an escrow of the depositor. Only deposits taken in by Lock qualify.
// Must run inside State.Execute.
func (s *SpokePool) Refund(d *Deposit) error {
	if d.OriginChainID != s.state.ChainID() {
		return fmt.Errorf("deposit %s originates on chain %d, not %d", d.ID, d.OriginChainID, s.state.ChainID())
	}
	if _, ok := escrow.Lookup(d.Depositor, d.RefundAddress); !ok {
		return fmt.Errorf("%w: %s", ErrUnverifiedEscrow, d.RefundAddress.Hex())
	}
	if !s.Locked(d) {
		return fmt.Errorf("%w: %s", ErrUnknownDeposit, d.ID)
	}
	if err := settle(s.state, s.address, d.ID); err != nil {
		return err
	}
	if err := s.state.TransferToken(d.InputToken, s.address, d.RefundAddress, d.InputAmount); err != nil {
		return fmt.Errorf("refund deposit %s: %w", d.ID, err)
	}
	log.Printf("Chain %d: refunded deposit %s (%s of %s) to %s",
		s.state.ChainID(), d.ID, d.InputAmount, d.InputToken.Hex(), d.RefundAddress.Hex())
	return nil
}
