package ledger

import (
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pool  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	base  = common.HexToAddress("0x000000000000000000000000000000000000ba5e")
	other = common.HexToAddress("0x0000000000000000000000000000000000000e7e")
)

func newLedger(t *testing.T) (*chainstate.State, *Ledger) {
	t.Helper()
	s, err := chainstate.NewMemoryState(1)
	require.NoError(t, err)
	return s, New(s, pool)
}

func TestLedger_AdjustBalanceEmitsEvent(t *testing.T) {
	s, l := newLedger(t)

	res, err := s.Execute("adjust", func() error {
		v, err := l.AdjustBalance(base, NewSigned(1000))
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1000), v.Big().Int64())
		v, err = l.AdjustBalance(base, NewSigned(-1500))
		assert.Equal(t, int64(-500), v.Big().Int64())
		return err
	})
	require.NoError(t, err)

	events := ParseEvents(res.Logs)
	require.Len(t, events, 2, spew.Sdump(res.Logs))
	assert.Equal(t, FieldVirtualBalance, events[1].Field)
	assert.Equal(t, base, events[1].Token)
	assert.Equal(t, int64(-1500), events[1].Delta.Big().Int64())
	assert.Equal(t, int64(-500), events[1].Value.Big().Int64())
}

func TestLedger_AdjustSupply(t *testing.T) {
	s, l := newLedger(t)

	res, err := s.Execute("supply", func() error {
		_, err := l.AdjustSupply(NewSigned(-20))
		return err
	})
	require.NoError(t, err)

	s.View(func() {
		assert.Equal(t, int64(-20), l.Supply().Big().Int64())
	})
	events := ParseEvents(res.Logs)
	require.Len(t, events, 1)
	assert.Equal(t, FieldVirtualSupply, events[0].Field)
	assert.Equal(t, common.Address{}, events[0].Token)
}

func TestLedger_ZeroDeltaIsNoop(t *testing.T) {
	s, l := newLedger(t)

	res, err := s.Execute("noop", func() error {
		if _, err := l.AdjustBalance(base, Zero); err != nil {
			return err
		}
		_, err := l.AdjustSupply(Zero)
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, res.Logs)
	s.View(func() { assert.Empty(t, l.Tokens()) })
}

func TestLedger_OverflowRejected(t *testing.T) {
	s, l := newLedger(t)

	_, err := s.Execute("max", func() error {
		_, err := l.AdjustSupply(MaxSigned)
		return err
	})
	require.NoError(t, err)

	_, err = s.Execute("overflow", func() error {
		_, err := l.AdjustSupply(NewSigned(1))
		return err
	})
	assert.ErrorIs(t, err, ErrOverflow)
	s.View(func() { assert.Equal(t, 0, l.Supply().Cmp(MaxSigned)) })
}

func TestLedger_RevertedWithTransaction(t *testing.T) {
	s, l := newLedger(t)

	_, err := s.Execute("fail", func() error {
		if _, err := l.AdjustBalance(base, NewSigned(5)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	s.View(func() {
		assert.True(t, l.Balance(base).IsZero())
		assert.Empty(t, l.Tokens())
	})
}

func TestLedger_Read(t *testing.T) {
	s, l := newLedger(t)

	_, err := s.Execute("setup", func() error {
		for _, step := range []struct {
			token common.Address
			delta int64
		}{{base, 10}, {other, 3}, {other, -3}, {base, 5}} {
			if _, err := l.AdjustBalance(step.token, NewSigned(step.delta)); err != nil {
				return err
			}
		}
		_, err := l.AdjustSupply(NewSigned(77))
		return err
	})
	require.NoError(t, err)

	s.View(func() {
		assert.Equal(t, []common.Address{base, other}, l.Tokens())
		snap := l.Read()
		require.Len(t, snap.Balances, 1, "zeroed balances are omitted")
		assert.Equal(t, int64(15), snap.Balances[base].Big().Int64())
		assert.Equal(t, int64(77), snap.Supply.Big().Int64())
	})
}

func TestParseEvent_Foreign(t *testing.T) {
	_, err := ParseEvent(supplyEvent(pool, NewSigned(1), NewSigned(1)))
	require.NoError(t, err)

	l := supplyEvent(pool, NewSigned(1), NewSigned(1))
	l.Topics[0] = common.HexToHash("0xdead")
	_, err = ParseEvent(l)
	assert.ErrorIs(t, err, ErrNotLedgerEvent)
}
