package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/escrow"
	"github.com/sharding-experiment/navpool/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolAddr = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	token    = common.HexToAddress("0x000000000000000000000000000000000000ba5e")
	handler  = common.HexToAddress("0x000000000000000000000000000000000000ca11")
	spokeAcc = common.HexToAddress("0x0000000000000000000000000000000000005b0e")
	mallory  = common.HexToAddress("0x000000000000000000000000000000000000bad0")
)

// newDeposit builds a transfer deposit from chain 1 to chain 10 carrying calls.
func newDeposit(t *testing.T, id string, amount uint64, calls ...protocol.Call) *Deposit {
	t.Helper()
	msg, err := protocol.EncodeInstructions(protocol.Instructions{Calls: calls, FallbackRecipient: poolAddr})
	require.NoError(t, err)
	return &Deposit{
		ID:                 id,
		OriginChainID:      1,
		DestinationChainID: 10,
		Depositor:          poolAddr,
		RefundAddress:      escrow.Derive(poolAddr, protocol.OpTransfer),
		Recipient:          handler,
		InputToken:         token,
		InputAmount:        uint256.NewInt(amount),
		OutputToken:        token,
		OutputAmount:       uint256.NewInt(amount),
		Source:             protocol.SourceMessage{OpType: protocol.OpTransfer},
		Message:            msg,
		CreatedAt:          time.Now(),
	}
}

func TestDeposit_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Deposit)
		wantErr string
	}{
		{"valid", func(d *Deposit) {}, ""},
		{"missing id", func(d *Deposit) { d.ID = "" }, "missing id"},
		{"same chain", func(d *Deposit) { d.DestinationChainID = 1 }, "both chain 1"},
		{"zero input", func(d *Deposit) { d.InputAmount = new(uint256.Int) }, "zero input"},
		{"nil output", func(d *Deposit) { d.OutputAmount = nil }, "zero output"},
		{"no recipient", func(d *Deposit) { d.Recipient = common.Address{} }, "missing recipient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDeposit(t, "d-1", 10)
			tt.mutate(d)
			err := d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDeposit_JSONKeepsInstructions(t *testing.T) {
	transfer, err := protocol.EncodeTransfer(poolAddr, uint256.NewInt(10))
	require.NoError(t, err)
	d := newDeposit(t, "d-1", 10, protocol.Call{Target: token, CallData: transfer})

	data, err := json.Marshal(d)
	require.NoError(t, err)
	var back Deposit
	require.NoError(t, json.Unmarshal(data, &back))

	in, err := back.Instructions()
	require.NoError(t, err)
	require.Len(t, in.Calls, 1)
	assert.Equal(t, token, in.Calls[0].Target)
	assert.Equal(t, poolAddr, in.FallbackRecipient)
	assert.Equal(t, "10", back.OutputAmount.Dec())
}

func TestLocalTransport(t *testing.T) {
	tr := NewLocalTransport()
	ctx := context.Background()

	require.NoError(t, tr.Deposit(ctx, &Deposit{ID: "a"}))
	require.NoError(t, tr.Deposit(ctx, &Deposit{ID: "b"}))
	assert.Equal(t, 2, tr.Len())

	tr.FailWith(errors.New("relayer down"))
	assert.ErrorContains(t, tr.Deposit(ctx, &Deposit{ID: "c"}), "relayer down")
	tr.FailWith(nil)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, tr.Deposit(cancelled, &Deposit{ID: "d"}), context.Canceled)

	got := tr.Take()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, 0, tr.Len())
}

func TestHTTPTransport(t *testing.T) {
	var received Deposit
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/deposit", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		if received.ID == "rejected" {
			json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "unknown chain"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.Client(), srv.URL+"/")
	require.NoError(t, tr.Deposit(context.Background(), newDeposit(t, "d-1", 10)))
	assert.Equal(t, "d-1", received.ID)
	assert.Equal(t, uint64(10), received.DestinationChainID)

	err := tr.Deposit(context.Background(), newDeposit(t, "rejected", 10))
	assert.ErrorContains(t, err, "unknown chain")
}

func TestHTTPTransport_RelayerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTPTransport(srv.Client(), srv.URL).Deposit(context.Background(), newDeposit(t, "d-1", 10))
	assert.ErrorContains(t, err, "503")
}
