// Package bridge models the cross-chain transport: deposits taken into custody
// on the origin chain, the transports that carry them, and the multicall
// executor that fills them on the destination chain.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/network"
	"github.com/sharding-experiment/navpool/internal/protocol"
)

// Deposit is a bridge order created on the origin chain.
type Deposit struct {
	ID                 string                 `json:"id"`
	OriginChainID      uint64                 `json:"origin_chain_id"`
	DestinationChainID uint64                 `json:"destination_chain_id"`
	Depositor          common.Address         `json:"depositor"`
	RefundAddress      common.Address         `json:"refund_address"`
	Recipient          common.Address         `json:"recipient"`
	InputToken         common.Address         `json:"input_token"`
	InputAmount        *uint256.Int           `json:"input_amount"`
	OutputToken        common.Address         `json:"output_token"`
	OutputAmount       *uint256.Int           `json:"output_amount"`
	Source             protocol.SourceMessage `json:"source"`
	Message            hexutil.Bytes          `json:"message"` // encoded protocol.Instructions
	CreatedAt          time.Time              `json:"created_at"`
}

// Validate checks that a deposit is complete enough to relay.
func (d *Deposit) Validate() error {
	switch {
	case d.ID == "":
		return errors.New("deposit: missing id")
	case d.OriginChainID == d.DestinationChainID:
		return fmt.Errorf("deposit %s: origin and destination are both chain %d", d.ID, d.OriginChainID)
	case d.InputAmount == nil || d.InputAmount.IsZero():
		return fmt.Errorf("deposit %s: zero input amount", d.ID)
	case d.OutputAmount == nil || d.OutputAmount.IsZero():
		return fmt.Errorf("deposit %s: zero output amount", d.ID)
	case d.Recipient == (common.Address{}):
		return fmt.Errorf("deposit %s: missing recipient", d.ID)
	}
	return nil
}

// Instructions decodes the multicall payload of the deposit.
func (d *Deposit) Instructions() (protocol.Instructions, error) {
	return protocol.DecodeInstructions(d.Message)
}

// Transport carries deposits from the origin chain to a relayer.
type Transport interface {
	Deposit(ctx context.Context, d *Deposit) error
}

// HTTPTransport submits deposits to the relayer service.
type HTTPTransport struct {
	client     *http.Client
	relayerURL string
}

// NewHTTPTransport creates a transport posting to relayerURL
func NewHTTPTransport(client *http.Client, relayerURL string) *HTTPTransport {
	return &HTTPTransport{client: client, relayerURL: strings.TrimRight(relayerURL, "/")}
}

func (t *HTTPTransport) Deposit(ctx context.Context, d *Deposit) error {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	if err := network.PostJSON(ctx, t.client, t.relayerURL+"/deposit", d, &resp); err != nil {
		return fmt.Errorf("relay deposit %s: %w", d.ID, err)
	}
	if !resp.Success {
		return fmt.Errorf("relay deposit %s: %s", d.ID, resp.Error)
	}
	log.Printf("[Bridge] deposit %s submitted to relayer (%d -> %d)", d.ID, d.OriginChainID, d.DestinationChainID)
	return nil
}

// LocalTransport keeps deposits in memory. Tests and single-process runs drain
// it by hand.
type LocalTransport struct {
	mu       sync.Mutex
	deposits []*Deposit
	err      error
}

// NewLocalTransport creates an empty in-memory transport
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{}
}

// FailWith makes every following Deposit call return err (nil to recover).
func (t *LocalTransport) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *LocalTransport) Deposit(ctx context.Context, d *Deposit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.deposits = append(t.deposits, d)
	return nil
}

// Take removes and returns every queued deposit in submission order.
func (t *LocalTransport) Take() []*Deposit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.deposits
	t.deposits = nil
	return out
}

// Len returns the number of queued deposits
func (t *LocalTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.deposits)
}
