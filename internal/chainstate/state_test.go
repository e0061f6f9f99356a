package chainstate

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token  = common.HexToAddress("0x000000000000000000000000000000000000ba5e")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	lockTx = common.HexToHash("0x01")
)

func newState(t *testing.T) *State {
	t.Helper()
	s, err := NewMemoryState(1)
	require.NoError(t, err)
	return s
}

func TestTokenMintTransferBurn(t *testing.T) {
	s := newState(t)

	_, err := s.Execute("mint", func() error {
		return s.MintToken(token, alice, uint256.NewInt(1000))
	})
	require.NoError(t, err)

	_, err = s.Execute("transfer", func() error {
		return s.TransferToken(token, alice, bob, uint256.NewInt(400))
	})
	require.NoError(t, err)

	s.View(func() {
		assert.Equal(t, uint64(600), s.TokenBalance(token, alice).Uint64())
		assert.Equal(t, uint64(400), s.TokenBalance(token, bob).Uint64())
		assert.Equal(t, uint64(1000), s.TokenSupply(token).Uint64())
	})

	_, err = s.Execute("burn", func() error {
		return s.BurnToken(token, bob, uint256.NewInt(100))
	})
	require.NoError(t, err)
	s.View(func() {
		assert.Equal(t, uint64(300), s.TokenBalance(token, bob).Uint64())
		assert.Equal(t, uint64(900), s.TokenSupply(token).Uint64())
	})
}

func TestTransferInsufficient(t *testing.T) {
	s := newState(t)
	_, err := s.Execute("transfer", func() error {
		return s.TransferToken(token, alice, bob, uint256.NewInt(1))
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestExecute_RevertsOnError(t *testing.T) {
	s := newState(t)
	boom := errors.New("boom")

	_, err := s.Execute("fail", func() error {
		require.NoError(t, s.MintToken(token, alice, uint256.NewInt(50)))
		s.AddNative(alice, uint256.NewInt(7))
		s.AddLog(&types.Log{Address: token})
		return boom
	})
	require.ErrorIs(t, err, boom)

	s.View(func() {
		assert.True(t, s.TokenBalance(token, alice).IsZero())
		assert.True(t, s.NativeBalance(alice).IsZero())
	})

	res, err := s.Execute("ok", func() error { return nil })
	require.NoError(t, err)
	assert.Empty(t, res.Logs, "reverted logs must not leak into later transactions")
}

func TestExecute_RevertsOnPanic(t *testing.T) {
	s := newState(t)

	assert.PanicsWithValue(t, "boom", func() {
		s.Execute("panic", func() error {
			require.NoError(t, s.MintToken(token, alice, uint256.NewInt(50)))
			s.AddLog(&types.Log{Address: token})
			panic("boom")
		})
	})

	// The state is unlocked and the partial writes are gone.
	res, err := s.Execute("ok", func() error {
		return s.MintToken(token, bob, uint256.NewInt(1))
	})
	require.NoError(t, err)
	assert.Empty(t, res.Logs)
	s.View(func() {
		assert.True(t, s.TokenBalance(token, alice).IsZero())
		assert.Equal(t, uint64(1), s.TokenSupply(token).Uint64())
	})
}

func TestExecute_TransientClearedBetweenTransactions(t *testing.T) {
	s := newState(t)
	one := common.BigToHash(common.Big1)

	_, err := s.Execute("set", func() error {
		s.SetTransient(alice, lockTx, one)
		assert.Equal(t, one, s.GetTransient(alice, lockTx))
		return nil
	})
	require.NoError(t, err)

	s.View(func() {
		assert.Equal(t, common.Hash{}, s.GetTransient(alice, lockTx))
	})

	_, err = s.Execute("set-and-fail", func() error {
		s.SetTransient(alice, lockTx, one)
		return errors.New("revert")
	})
	require.Error(t, err)

	_, err = s.Execute("check", func() error {
		assert.Equal(t, common.Hash{}, s.GetTransient(alice, lockTx))
		return nil
	})
	require.NoError(t, err)
}

func TestExecute_CollectsLogs(t *testing.T) {
	s := newState(t)

	res, err := s.Execute("logs", func() error {
		s.AddLog(&types.Log{Address: token, Topics: []common.Hash{lockTx}})
		s.AddLog(&types.Log{Address: bob})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, res.Logs, 2)
	assert.Equal(t, res.TxHash, res.Logs[0].TxHash)
	assert.Equal(t, bob, res.Logs[1].Address)
}

func TestNestedSnapshot(t *testing.T) {
	s := newState(t)
	_, err := s.Execute("nested", func() error {
		if err := s.MintToken(token, alice, uint256.NewInt(10)); err != nil {
			return err
		}
		snap := s.Snapshot()
		if err := s.MintToken(token, alice, uint256.NewInt(5)); err != nil {
			return err
		}
		s.RevertToSnapshot(snap)
		return nil
	})
	require.NoError(t, err)
	s.View(func() {
		assert.Equal(t, uint64(10), s.TokenBalance(token, alice).Uint64())
	})
}

func TestPersistentState_Reopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewPersistentState(dir, 7)
	require.NoError(t, err)
	_, err = s.Execute("mint", func() error {
		return s.MintToken(token, alice, uint256.NewInt(42))
	})
	require.NoError(t, err)
	root, err := s.Commit(1)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close must be idempotent")

	reopened, err := NewPersistentState(dir, 7)
	require.NoError(t, err)
	defer reopened.Close()

	reopened.View(func() {
		assert.Equal(t, root, reopened.StateRoot())
		assert.Equal(t, uint64(42), reopened.TokenBalance(token, alice).Uint64())
	})
}

func TestClosedState(t *testing.T) {
	s := newState(t)
	require.NoError(t, s.Close())
	_, err := s.Execute("x", func() error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}
