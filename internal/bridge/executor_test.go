package bridge

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/escrow"
	"github.com/sharding-experiment/navpool/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDonor stands in for a pool's donate entry point.
type recordingDonor struct {
	calls []protocol.DonateCall
	err   error
}

func (d *recordingDonor) Donate(token common.Address, amount *uint256.Int, params protocol.DestinationMessage) error {
	d.calls = append(d.calls, protocol.DonateCall{Token: token, Amount: amount, Params: params})
	return d.err
}

func newState(t *testing.T, chainID uint64) *chainstate.State {
	t.Helper()
	st, err := chainstate.NewMemoryState(chainID)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// poolCalls is the standard four-call sequence delivering amount to the pool.
func poolCalls(t *testing.T, amount uint64) []protocol.Call {
	t.Helper()
	msg := protocol.DestinationMessage{OpType: protocol.OpTransfer}
	snapshot, err := protocol.EncodeDonate(token, protocol.DonateSentinel, msg)
	require.NoError(t, err)
	transfer, err := protocol.EncodeTransfer(poolAddr, uint256.NewInt(amount))
	require.NoError(t, err)
	drain, err := protocol.EncodeDrain(token, poolAddr)
	require.NoError(t, err)
	finalize, err := protocol.EncodeDonate(token, uint256.NewInt(amount), msg)
	require.NoError(t, err)
	return []protocol.Call{
		{Target: poolAddr, CallData: snapshot},
		{Target: token, CallData: transfer},
		{Target: handler, CallData: drain},
		{Target: poolAddr, CallData: finalize},
	}
}

func fill(t *testing.T, st *chainstate.State, e *Executor, d *Deposit, amount uint64) (*FillResult, error) {
	t.Helper()
	var res *FillResult
	_, err := st.Execute("fill-"+d.ID, func() (err error) {
		res, err = e.Fill(d, uint256.NewInt(amount))
		return err
	})
	return res, err
}

func balanceOf(st *chainstate.State, holder common.Address) uint64 {
	var v uint64
	st.View(func() { v = st.TokenBalance(token, holder).Uint64() })
	return v
}

func TestFill_RunsInstructions(t *testing.T) {
	st := newState(t, 10)
	donor := &recordingDonor{}
	e := NewExecutor(st, handler)
	e.Register(poolAddr, donor)

	// The filler over-delivers; the drain sweeps the surplus to the pool too.
	res, err := fill(t, st, e, newDeposit(t, "d-1", 1000, poolCalls(t, 1000)...), 1003)
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Equal(t, "1003", res.Filled.Dec())

	assert.Equal(t, uint64(1003), balanceOf(st, poolAddr))
	assert.Zero(t, balanceOf(st, handler))
	require.Len(t, donor.calls, 2)
	assert.True(t, protocol.IsSentinel(donor.calls[0].Amount))
	assert.Equal(t, "1000", donor.calls[1].Amount.Dec())
	assert.Equal(t, protocol.OpTransfer, donor.calls[1].Params.OpType)
}

func TestFill_FailedInstructionsDrainToFallback(t *testing.T) {
	st := newState(t, 10)
	donor := &recordingDonor{err: errors.New("nav impact too high")}
	e := NewExecutor(st, handler)
	e.Register(poolAddr, donor)

	res, err := fill(t, st, e, newDeposit(t, "d-1", 1000, poolCalls(t, 1000)...), 1000)
	require.NoError(t, err, "a failed multicall still fills")
	assert.False(t, res.Executed)
	assert.Contains(t, res.Error, "nav impact too high")
	assert.Equal(t, poolAddr, res.Fallback)
	assert.Equal(t, uint64(1000), balanceOf(st, poolAddr))
	assert.Zero(t, balanceOf(st, handler))
}

func TestFill_UnknownCallFallsBack(t *testing.T) {
	st := newState(t, 10)
	e := NewExecutor(st, handler)

	res, err := fill(t, st, e, newDeposit(t, "d-1", 5, poolCalls(t, 5)...), 5)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Contains(t, res.Error, "donate to unknown pool")

	res, err = fill(t, st, e, newDeposit(t, "d-2", 5, protocol.Call{Target: token, CallData: hexutil.Bytes{1, 2, 3, 4}}), 5)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Equal(t, uint64(10), balanceOf(st, poolAddr))
}

func TestFill_NativeValueCall(t *testing.T) {
	st := newState(t, 10)
	e := NewExecutor(st, handler)
	d := newDeposit(t, "d-1", 5, protocol.Call{Target: mallory, Value: (*hexutil.Big)(uint256.NewInt(7).ToBig())})

	res, err := fill(t, st, e, d, 5)
	require.NoError(t, err)
	assert.False(t, res.Executed, "the handler holds no native coin")

	_, err = st.Execute("fund", func() error {
		st.AddNative(handler, uint256.NewInt(7))
		return nil
	})
	require.NoError(t, err)
	d.ID = "d-2"
	res, err = fill(t, st, e, d, 5)
	require.NoError(t, err)
	assert.True(t, res.Executed)
	st.View(func() { assert.Equal(t, uint64(7), st.NativeBalance(mallory).Uint64()) })
}

func TestFill_Rejections(t *testing.T) {
	st := newState(t, 10)
	e := NewExecutor(st, handler)
	e.Register(poolAddr, &recordingDonor{})

	tests := []struct {
		name   string
		mutate func(d *Deposit)
		want   error
	}{
		{"other chain", func(d *Deposit) { d.DestinationChainID = 42 }, ErrWrongDestination},
		{"other handler", func(d *Deposit) { d.Recipient = mallory }, ErrWrongDestination},
		{"forged refund address", func(d *Deposit) { d.RefundAddress = mallory }, ErrUnverifiedEscrow},
		{"escrow of another pool", func(d *Deposit) { d.RefundAddress = escrow.Derive(mallory, protocol.OpSync) }, ErrUnverifiedEscrow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDeposit(t, "d-"+tt.name, 10, poolCalls(t, 10)...)
			tt.mutate(d)
			_, err := fill(t, st, e, d, 10)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := fill(t, st, e, newDeposit(t, "zero", 10, poolCalls(t, 10)...), 0)
	assert.ErrorContains(t, err, "zero fill")
	assert.Zero(t, balanceOf(st, poolAddr))
}

func TestFill_SettlesOnce(t *testing.T) {
	st := newState(t, 10)
	e := NewExecutor(st, handler)
	e.Register(poolAddr, &recordingDonor{})
	d := newDeposit(t, "d-1", 10, poolCalls(t, 10)...)

	_, err := fill(t, st, e, d, 10)
	require.NoError(t, err)
	_, err = fill(t, st, e, d, 10)
	assert.ErrorIs(t, err, ErrAlreadySettled)
	assert.Equal(t, uint64(10), balanceOf(st, poolAddr))
}
