package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/escrow"
	"github.com/sharding-experiment/navpool/internal/protocol"
)

var (
	// ErrWrongDestination is returned for fills of deposits meant for another chain or handler.
	ErrWrongDestination = errors.New("deposit is not for this destination")
	// ErrUnverifiedEscrow is returned when the refund address is not an escrow of the depositor.
	ErrUnverifiedEscrow = errors.New("refund address is not the depositor's escrow")
	// ErrUnknownCall is returned for instruction calls the handler cannot dispatch.
	ErrUnknownCall = errors.New("unknown instruction call")
)

// Donor receives the donate calls of an instruction sequence.
type Donor interface {
	Donate(token common.Address, amount *uint256.Int, params protocol.DestinationMessage) error
}

// FillResult reports how a deposit was filled.
type FillResult struct {
	DepositID string         `json:"deposit_id"`
	Filled    *uint256.Int   `json:"filled"`
	Executed  bool           `json:"executed"`
	Error     string         `json:"error,omitempty"`
	Fallback  common.Address `json:"fallback,omitempty"`
}

// Executor is the multicall handler of one destination chain. It receives the
// filled tokens and runs the deposit's instructions on their behalf.
type Executor struct {
	state   *chainstate.State
	handler common.Address
	pools   map[common.Address]Donor
}

// NewExecutor creates the executor running as the handler account
func NewExecutor(state *chainstate.State, handler common.Address) *Executor {
	return &Executor{
		state:   state,
		handler: handler,
		pools:   make(map[common.Address]Donor),
	}
}

// Register routes donate calls addressed to pool to donor.
func (e *Executor) Register(pool common.Address, donor Donor) {
	e.pools[pool] = donor
}

// Handler returns the handler account address
func (e *Executor) Handler() common.Address {
	return e.handler
}

// Fill credits filled of the deposit's output token to the handler and runs the
// instructions. If any call fails, every call is undone and the handler's
// balance goes to the fallback recipient; the fill itself still succeeds.
// Must run inside State.Execute.
func (e *Executor) Fill(d *Deposit, filled *uint256.Int) (*FillResult, error) {
	if d.DestinationChainID != e.state.ChainID() || d.Recipient != e.handler {
		return nil, fmt.Errorf("%w: chain %d handler %s", ErrWrongDestination, d.DestinationChainID, d.Recipient.Hex())
	}
	if _, ok := escrow.Lookup(d.Depositor, d.RefundAddress); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnverifiedEscrow, d.RefundAddress.Hex())
	}
	if filled == nil || filled.IsZero() {
		return nil, fmt.Errorf("deposit %s: zero fill", d.ID)
	}
	in, err := d.Instructions()
	if err != nil {
		return nil, fmt.Errorf("deposit %s: %w", d.ID, err)
	}
	if err := settle(e.state, e.handler, d.ID); err != nil {
		return nil, err
	}

	if err := e.state.MintToken(d.OutputToken, e.handler, filled); err != nil {
		return nil, err
	}

	result := &FillResult{DepositID: d.ID, Filled: filled, Executed: true}
	snap := e.state.Snapshot()
	if err := e.run(in.Calls); err != nil {
		e.state.RevertToSnapshot(snap)
		log.Printf("Chain %d: deposit %s instructions failed, draining to %s: %v",
			e.state.ChainID(), d.ID, in.FallbackRecipient.Hex(), err)

		if err := e.drain(d.OutputToken, in.FallbackRecipient); err != nil {
			return nil, err
		}
		result.Executed = false
		result.Error = err.Error()
		result.Fallback = in.FallbackRecipient
		return result, nil
	}

	log.Printf("Chain %d: deposit %s filled with %s of %s", e.state.ChainID(), d.ID, filled, d.OutputToken.Hex())
	return result, nil
}

func (e *Executor) run(calls []protocol.Call) error {
	for i, call := range calls {
		if err := e.call(call); err != nil {
			return fmt.Errorf("call %d to %s: %w", i, call.Target.Hex(), err)
		}
	}
	return nil
}

func (e *Executor) call(c protocol.Call) error {
	if c.Value != nil && c.Value.ToInt().Sign() > 0 {
		v, overflow := uint256.FromBig(c.Value.ToInt())
		if overflow {
			return fmt.Errorf("call value out of range")
		}
		if err := e.state.SubNative(e.handler, v); err != nil {
			return err
		}
		e.state.AddNative(c.Target, v)
	}
	if len(c.CallData) == 0 {
		return nil
	}

	sel, err := protocol.Selector(c.CallData)
	if err != nil {
		return err
	}
	switch {
	case bytes.Equal(sel, protocol.DonateSelector):
		donor, ok := e.pools[c.Target]
		if !ok {
			return fmt.Errorf("%w: donate to unknown pool", ErrUnknownCall)
		}
		dc, err := protocol.DecodeDonate(c.CallData)
		if err != nil {
			return err
		}
		return donor.Donate(dc.Token, dc.Amount, dc.Params)

	case bytes.Equal(sel, protocol.TransferSelector):
		tc, err := protocol.DecodeTransfer(c.CallData)
		if err != nil {
			return err
		}
		return e.state.TransferToken(c.Target, e.handler, tc.To, tc.Amount)

	case bytes.Equal(sel, protocol.DrainSelector) && c.Target == e.handler:
		dc, err := protocol.DecodeDrain(c.CallData)
		if err != nil {
			return err
		}
		return e.drain(dc.Token, dc.Destination)
	}
	return fmt.Errorf("%w: selector %x", ErrUnknownCall, sel)
}

// drain sends the handler's whole balance of token to destination.
func (e *Executor) drain(token, destination common.Address) error {
	bal := e.state.TokenBalance(token, e.handler)
	if bal.IsZero() {
		return nil
	}
	return e.state.TransferToken(token, e.handler, destination, bal)
}
