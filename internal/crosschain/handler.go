// Package crosschain moves pool value between chains without moving NAV: the
// Initiator books the outbound leg on the source chain and the Handler
// reconciles the inbound leg on the destination chain.
package crosschain

import (
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/ledger"
	"github.com/sharding-experiment/navpool/internal/pool"
	"github.com/sharding-experiment/navpool/internal/protocol"
)

// manipulationTolerance absorbs flooring when an asset is valued in one piece
// rather than as baseline plus delta.
var manipulationTolerance = big.NewInt(1)

// The donation lock and balance snapshots live in transient storage of the
// pool account, so they vanish at the end of the transaction whatever happens.
var (
	donationLockSlot     = crypto.Keccak256Hash([]byte("navpool.donation.lock"))
	donationSnapshotSlot = crypto.Keccak256Hash([]byte("navpool.donation.snapshot"))
	donationTokenSlot    = crypto.Keccak256Hash([]byte("navpool.donation.token"))
)

// Handler runs the two-phase donate protocol of one pool.
// Donate must be called inside State.Execute.
type Handler struct {
	pool *pool.Pool
}

// NewHandler creates the donation handler of p
func NewHandler(p *pool.Pool) *Handler {
	return &Handler{pool: p}
}

func (h *Handler) state() *chainstate.State {
	return h.pool.State()
}

// Locked reports whether a donation is in progress in the running transaction.
func (h *Handler) Locked() bool {
	return h.state().GetTransient(h.pool.Address(), donationLockSlot) != (common.Hash{})
}

func (h *Handler) setLock(on bool) {
	v := common.Hash{}
	if on {
		v = common.BigToHash(common.Big1)
	}
	h.state().SetTransient(h.pool.Address(), donationLockSlot, v)
}

// lockedToken returns the token whose balance the running donation snapshotted.
func (h *Handler) lockedToken() common.Address {
	return common.BytesToAddress(h.state().GetTransient(h.pool.Address(), donationTokenSlot).Bytes())
}

// release clears the lock, the locked token and its snapshot.
func (h *Handler) release() {
	st, poolAddr := h.state(), h.pool.Address()
	st.SetTransient(poolAddr, snapshotKey(h.lockedToken()), common.Hash{})
	st.SetTransient(poolAddr, donationTokenSlot, common.Hash{})
	h.setLock(false)
}

func snapshotKey(token common.Address) common.Hash {
	return chainstate.MappingSlot(common.BytesToHash(token.Bytes()), donationSnapshotSlot)
}

// Donate takes part in a cross-chain delivery. Called with the sentinel amount
// it locks the pool and snapshots its balance of token; called again with the
// delivered amount it reconciles the delivery and releases the lock.
//
// The operation type is only checked by the second call.
func (h *Handler) Donate(token common.Address, amount *uint256.Int, params protocol.DestinationMessage) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: zero donation", ErrCallerTransferAmount)
	}
	if protocol.IsSentinel(amount) {
		return h.initialize(token)
	}
	return h.finalize(token, amount, params)
}

func (h *Handler) initialize(token common.Address) error {
	st := h.state()
	if h.Locked() {
		log.Printf("Chain %d: donation of %s rejected, pool is locked", st.ChainID(), token.Hex())
		return ErrDonationLock
	}

	snap := st.Snapshot()
	h.setLock(true)
	st.SetTransient(h.pool.Address(), donationTokenSlot, common.BytesToHash(token.Bytes()))
	balance := st.TokenBalance(token, h.pool.Address())
	st.SetTransient(h.pool.Address(), snapshotKey(token), chainstate.UintToHash(balance))

	if _, err := h.pool.Engine().Refresh(); err != nil {
		st.RevertToSnapshot(snap)
		return err
	}
	log.Printf("Chain %d: donation lock taken, %s balance snapshot %s", st.ChainID(), token.Hex(), balance)
	return nil
}

func (h *Handler) finalize(token common.Address, amount *uint256.Int, params protocol.DestinationMessage) (err error) {
	st := h.state()
	if !h.Locked() {
		return fmt.Errorf("%w: finalize without snapshot", ErrDonationLock)
	}
	if locked := h.lockedToken(); locked != token {
		log.Printf("Chain %d: donation of %s rejected, snapshot was taken of %s", st.ChainID(), token.Hex(), locked.Hex())
		return fmt.Errorf("%w: snapshot taken of %s, not %s", ErrDonationLock, locked.Hex(), token.Hex())
	}
	defer h.release()

	snap := st.Snapshot()
	defer func() {
		if err != nil {
			st.RevertToSnapshot(snap)
			log.Printf("Chain %d: donation of %s %s rejected: %v", st.ChainID(), amount, token.Hex(), err)
		}
	}()

	poolAddr := h.pool.Address()
	before := chainstate.HashToUint(st.GetTransient(poolAddr, snapshotKey(token)))
	current := st.TokenBalance(token, poolAddr)
	if current.Lt(before) {
		return fmt.Errorf("%w: balance %s below snapshot %s", ErrBalanceUnderflow, current, before)
	}

	delta := new(uint256.Int).Sub(current, before)
	if delta.IsZero() || amount.Gt(delta) {
		return fmt.Errorf("%w: amount %s, delivered %s", ErrCallerTransferAmount, amount, delta)
	}

	oracle := h.pool.Oracle()
	if !oracle.HasPriceFeed(token) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCrossChainToken, token.Hex())
	}
	h.pool.AddActiveAsset(token)

	switch params.OpType {
	case protocol.OpSync:
		err = h.checkSync(token, delta)
	case protocol.OpTransfer:
		err = h.bookTransfer(token, amount)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidOpType, params.OpType)
	}
	if err != nil {
		return err
	}

	if params.ShouldUnwrapNative && token == h.pool.WrappedNative() && token != (common.Address{}) {
		if err := st.BurnToken(token, poolAddr, delta); err != nil {
			return fmt.Errorf("unwrap: %w", err)
		}
		st.AddNative(poolAddr, delta)
	}

	st.AddLog(tokensReceivedLog(poolAddr, token, amount, delta, params.OpType))
	log.Printf("Chain %d: received %s of %s (delivered %s, %s)", st.ChainID(), amount, token.Hex(), delta, params.OpType)
	return nil
}

// checkSync verifies that NAV moved by exactly the delivered value since the
// snapshot, so nothing else touched the pool in between.
func (h *Handler) checkSync(token common.Address, delta *uint256.Int) error {
	engine := h.pool.Engine()
	baseline := engine.StoredState().TotalAssets.Big()
	value, err := h.pool.Oracle().Value(token, delta)
	if err != nil {
		return err
	}
	expected := new(big.Int).Add(baseline, value)

	current, err := engine.Refresh()
	if err != nil {
		return err
	}
	diff := new(big.Int).Sub(current.TotalAssets.Big(), expected)
	if diff.Abs(diff).Cmp(manipulationTolerance) > 0 {
		return fmt.Errorf("%w: assets %s, expected %s", ErrNavManipulationDetected, current.TotalAssets, expected)
	}
	return nil
}

// bookTransfer offsets the nominal value against the base virtual balance
// booked by an earlier outbound leg and credits the rest as virtual supply at
// the NAV of the snapshot. Surplus is not booked.
func (h *Handler) bookTransfer(token common.Address, amount *uint256.Int) error {
	engine := h.pool.Engine()
	l := h.pool.Ledger()
	base := h.pool.BaseToken()

	v, err := h.pool.Oracle().Value(token, amount)
	if err != nil {
		return err
	}
	value := ledger.SignedFromBig(v)
	vb := l.Balance(base)

	remaining := value
	switch {
	case vb.IsPositive() && vb.Cmp(value) >= 0:
		remaining = ledger.Zero
		if _, err := l.AdjustBalance(base, value.Neg()); err != nil {
			return err
		}
	case vb.IsPositive():
		remaining = value.Sub(vb)
		if _, err := l.AdjustBalance(base, vb.Neg()); err != nil {
			return err
		}
	}

	if remaining.IsPositive() {
		shares, err := engine.SharesFor(remaining.Big(), engine.StoredState().UnitaryValue.Big())
		if err != nil {
			return err
		}
		if _, err := l.AdjustSupply(ledger.SignedFromBig(shares)); err != nil {
			return err
		}
	}
	return engine.CheckSupply()
}
