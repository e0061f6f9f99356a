package crosschain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/bridge"
	"github.com/sharding-experiment/navpool/internal/escrow"
	"github.com/sharding-experiment/navpool/internal/ledger"
	"github.com/sharding-experiment/navpool/internal/nav"
	"github.com/sharding-experiment/navpool/internal/pool"
	"github.com/sharding-experiment/navpool/internal/protocol"
)

// TransferParams describes an outbound transfer. The output token and amount
// are what the destination chain must receive.
type TransferParams struct {
	InputToken                common.Address  `json:"input_token"`
	InputAmount               *uint256.Int    `json:"input_amount"`
	OutputToken               common.Address  `json:"output_token"`
	OutputAmount              *uint256.Int    `json:"output_amount"`
	DestinationChainID        uint64          `json:"destination_chain_id"`
	OpType                    protocol.OpType `json:"op_type"`
	NavToleranceBps           uint64          `json:"nav_tolerance_bps"`
	ShouldUnwrapOnDestination bool            `json:"should_unwrap_on_destination"`
}

// Initiator starts outbound transfers of one pool.
type Initiator struct {
	pool         *pool.Pool
	spoke        *bridge.SpokePool
	transport    bridge.Transport
	handler      common.Address // multicall handler on every destination chain
	destinations map[uint64]bool
}

// NewInitiator creates the initiator of p. Tokens leave through spoke and
// deposits are announced on transport.
func NewInitiator(p *pool.Pool, spoke *bridge.SpokePool, transport bridge.Transport, handler common.Address, destinations []uint64) *Initiator {
	dests := make(map[uint64]bool, len(destinations))
	for _, id := range destinations {
		dests[id] = true
	}
	return &Initiator{
		pool:         p,
		spoke:        spoke,
		transport:    transport,
		handler:      handler,
		destinations: dests,
	}
}

// Supports reports whether transfers to chainID are possible
func (i *Initiator) Supports(chainID uint64) bool {
	return i.destinations[chainID]
}

func (i *Initiator) validate(p TransferParams) error {
	switch {
	case p.DestinationChainID == i.pool.ChainID():
		return fmt.Errorf("%w: chain %d", ErrSameChainTransfer, p.DestinationChainID)
	case p.InputToken == (common.Address{}) || p.OutputToken == (common.Address{}):
		return fmt.Errorf("%w: token", ErrNullAddress)
	case p.OutputAmount == nil || p.OutputAmount.IsZero():
		return fmt.Errorf("%w: zero output amount", ErrInvalidAmount)
	case p.InputAmount == nil || p.InputAmount.IsZero():
		return fmt.Errorf("%w: zero input amount", ErrInvalidAmount)
	case !p.OpType.Valid():
		return fmt.Errorf("%w: %s", ErrInvalidOpType, p.OpType)
	case !i.destinations[p.DestinationChainID]:
		return fmt.Errorf("%w: %d", ErrUnsupportedChain, p.DestinationChainID)
	}
	return nil
}

// Initiate books the outbound leg of a transfer, moves the input tokens into
// bridge custody and hands the deposit to the transport. A transport failure
// fails the whole call. Must run inside State.Execute.
func (i *Initiator) Initiate(ctx context.Context, p TransferParams) (*bridge.Deposit, error) {
	if err := i.validate(p); err != nil {
		return nil, err
	}
	oracle := i.pool.Oracle()
	for _, token := range []common.Address{p.InputToken, p.OutputToken} {
		if !oracle.HasPriceFeed(token) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedCrossChainToken, token.Hex())
		}
	}

	st, err := i.pool.Engine().Refresh()
	if err != nil {
		return nil, err
	}

	switch p.OpType {
	case protocol.OpSync:
		value, err := oracle.Value(p.InputToken, p.InputAmount)
		if err != nil {
			return nil, err
		}
		if err := nav.ValidateImpact(value, st.TotalAssets.Big(), p.NavToleranceBps); err != nil {
			return nil, err
		}
	}

	d, err := i.buildDeposit(p)
	if err != nil {
		return nil, err
	}
	if p.OpType == protocol.OpTransfer {
		bk, err := i.bookTransfer(p, st.UnitaryValue.Big())
		if err != nil {
			return nil, err
		}
		bk.ID = bridge.DepositHash(d.ID)
		i.bookings().add(bk)
	}
	if err := i.spoke.Lock(d); err != nil {
		return nil, err
	}
	if err := i.transport.Deposit(ctx, d); err != nil {
		return nil, err
	}

	state := i.pool.State()
	state.AddLog(transferInitiatedLog(i.pool.Address(), d.ID, d.DestinationChainID, d.InputToken, d.InputAmount, p.OpType))
	log.Printf("Chain %d: initiated %s transfer %s of %s %s to chain %d",
		state.ChainID(), p.OpType, d.ID, p.InputAmount, p.InputToken.Hex(), p.DestinationChainID)
	return d, nil
}

// bookTransfer consumes virtual supply credited by earlier inbound legs and
// books whatever remains as a base-token receivable, so NAV stays put while
// the tokens are away. The returned booking records both parts.
func (i *Initiator) bookTransfer(p TransferParams, unitaryValue *big.Int) (booking, error) {
	engine := i.pool.Engine()
	l := i.pool.Ledger()
	base := i.pool.BaseToken()
	bk := booking{Token: p.InputToken, Supply: ledger.Zero, Balance: ledger.Zero}

	out, err := i.pool.Oracle().Value(p.OutputToken, p.OutputAmount)
	if err != nil {
		return bk, err
	}
	shares, err := engine.SharesFor(out, unitaryValue)
	if err != nil {
		return bk, err
	}
	outValue := ledger.SignedFromBig(out)
	sharesAmt := ledger.SignedFromBig(shares)
	vs := l.Supply()

	switch {
	case sharesAmt.IsPositive() && vs.Cmp(sharesAmt) >= 0:
		bk.Supply = sharesAmt
	case vs.IsPositive() && vs.Cmp(sharesAmt) < 0:
		covered := ledger.SignedFromBig(engine.ValueOf(vs.Big(), unitaryValue))
		bk.Supply = vs
		bk.Balance = outValue.Sub(covered)
	default:
		bk.Balance = outValue
	}

	if !bk.Supply.IsZero() {
		if _, err := l.AdjustSupply(bk.Supply.Neg()); err != nil {
			return bk, err
		}
	}
	if !bk.Balance.IsZero() {
		if _, err := l.AdjustBalance(base, bk.Balance); err != nil {
			return bk, err
		}
	}
	return bk, engine.CheckSupply()
}

func (i *Initiator) bookings() bookings {
	return bookings{state: i.pool.State(), owner: i.pool.Address()}
}

// unwindRefunded reverses the outbound booking of every refunded transfer of
// token, restoring the virtual supply and receivable it moved.
func (i *Initiator) unwindRefunded(token common.Address) error {
	l := i.pool.Ledger()
	base := i.pool.BaseToken()
	store := i.bookings()
	for _, bk := range store.pending() {
		if bk.Token != token || !i.spoke.Refunded(bk.ID) {
			continue
		}
		if !bk.Supply.IsZero() {
			if _, err := l.AdjustSupply(bk.Supply); err != nil {
				return err
			}
		}
		if !bk.Balance.IsZero() {
			if _, err := l.AdjustBalance(base, bk.Balance.Neg()); err != nil {
				return err
			}
		}
		store.remove(bk.ID)
	}
	return i.pool.Engine().CheckSupply()
}

func (i *Initiator) buildDeposit(p TransferParams) (*bridge.Deposit, error) {
	poolAddr := i.pool.Address()
	dest := protocol.DestinationMessage{OpType: p.OpType, ShouldUnwrapNative: p.ShouldUnwrapOnDestination}

	snapshot, err := protocol.EncodeDonate(p.OutputToken, protocol.DonateSentinel, dest)
	if err != nil {
		return nil, err
	}
	transfer, err := protocol.EncodeTransfer(poolAddr, p.OutputAmount)
	if err != nil {
		return nil, err
	}
	drain, err := protocol.EncodeDrain(p.OutputToken, poolAddr)
	if err != nil {
		return nil, err
	}
	finalize, err := protocol.EncodeDonate(p.OutputToken, p.OutputAmount, dest)
	if err != nil {
		return nil, err
	}
	message, err := protocol.EncodeInstructions(protocol.Instructions{
		Calls: []protocol.Call{
			{Target: poolAddr, CallData: snapshot},
			{Target: p.OutputToken, CallData: transfer},
			{Target: i.handler, CallData: drain},
			{Target: poolAddr, CallData: finalize},
		},
		FallbackRecipient: poolAddr,
	})
	if err != nil {
		return nil, err
	}

	return &bridge.Deposit{
		ID:                 uuid.New().String(),
		OriginChainID:      i.pool.ChainID(),
		DestinationChainID: p.DestinationChainID,
		Depositor:          poolAddr,
		RefundAddress:      escrow.Derive(poolAddr, p.OpType),
		Recipient:          i.handler,
		InputToken:         p.InputToken,
		InputAmount:        p.InputAmount,
		OutputToken:        p.OutputToken,
		OutputAmount:       p.OutputAmount,
		Source: protocol.SourceMessage{
			OpType:                    p.OpType,
			NavToleranceBps:           p.NavToleranceBps,
			ShouldUnwrapOnDestination: p.ShouldUnwrapOnDestination,
			SourceNativeAmount:        new(big.Int),
		},
		Message:   message,
		CreatedAt: time.Now(),
	}, nil
}

// ClaimEscrow moves refunded tokens from the op escrow back into the pool.
// Refunded Transfer legs have their outbound booking reversed exactly, whether
// it consumed virtual supply or booked a receivable. Must run inside State.Execute.
func (i *Initiator) ClaimEscrow(op protocol.OpType, token common.Address) (*uint256.Int, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOpType, op)
	}
	if token == (common.Address{}) {
		return nil, fmt.Errorf("%w: token", ErrNullAddress)
	}
	oracle := i.pool.Oracle()
	if !oracle.HasPriceFeed(token) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCrossChainToken, token.Hex())
	}

	state := i.pool.State()
	poolAddr := i.pool.Address()
	escrowAddr := escrow.Derive(poolAddr, op)
	amount := state.TokenBalance(token, escrowAddr)
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: %s escrow holds no %s", ErrNothingToClaim, op, token.Hex())
	}
	if err := state.TransferToken(token, escrowAddr, poolAddr, amount); err != nil {
		return nil, err
	}
	i.pool.AddActiveAsset(token)

	if op == protocol.OpTransfer {
		if err := i.unwindRefunded(token); err != nil {
			return nil, err
		}
	}

	state.AddLog(escrowClaimedLog(poolAddr, escrowAddr, token, amount, op))
	log.Printf("Chain %d: claimed %s of %s from %s escrow %s", state.ChainID(), amount, token.Hex(), op, escrowAddr.Hex())
	return amount, nil
}
