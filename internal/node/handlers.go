package node

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/navpool/internal/bridge"
	"github.com/sharding-experiment/navpool/internal/chainstate"
	"github.com/sharding-experiment/navpool/internal/crosschain"
	"github.com/sharding-experiment/navpool/internal/escrow"
	"github.com/sharding-experiment/navpool/internal/ledger"
	"github.com/sharding-experiment/navpool/internal/nav"
	"github.com/sharding-experiment/navpool/internal/pool"
	"github.com/sharding-experiment/navpool/internal/protocol"
)

// NativeToken is the token path segment and faucet token naming the native coin.
const NativeToken = "native"

type FaucetRequest struct {
	Token   string       `json:"token"` // address or "native"
	Address string       `json:"address"`
	Amount  *uint256.Int `json:"amount"`
}

type MintRequest struct {
	Holder string       `json:"holder"`
	Amount *uint256.Int `json:"amount"`
}

type BurnRequest struct {
	Holder string       `json:"holder"`
	Shares *uint256.Int `json:"shares"`
}

type FillRequest struct {
	Deposit *bridge.Deposit `json:"deposit"`
	Amount  *uint256.Int    `json:"amount"` // defaults to the deposit's output amount
}

type RefundRequest struct {
	Deposit *bridge.Deposit `json:"deposit"`
}

type ClaimEscrowRequest struct {
	OpType protocol.OpType `json:"op_type"`
	Token  string          `json:"token"`
}

// writeJSON encodes v with status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

// statusFor maps domain errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, crosschain.ErrInvalidAmount),
		errors.Is(err, crosschain.ErrNullAddress),
		errors.Is(err, crosschain.ErrSameChainTransfer),
		errors.Is(err, crosschain.ErrInvalidOpType),
		errors.Is(err, crosschain.ErrUnsupportedChain),
		errors.Is(err, pool.ErrZeroAmount):
		return http.StatusBadRequest
	case errors.Is(err, crosschain.ErrDonationLock),
		errors.Is(err, bridge.ErrAlreadySettled):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrWrongDestination),
		errors.Is(err, bridge.ErrUnverifiedEscrow):
		return http.StatusForbidden
	case errors.Is(err, bridge.ErrUnknownDeposit):
		return http.StatusNotFound
	case errors.Is(err, chainstate.ErrInsufficientFunds),
		errors.Is(err, crosschain.ErrNothingToClaim),
		errors.Is(err, crosschain.ErrUnsupportedCrossChainToken),
		errors.Is(err, crosschain.ErrNavManipulationDetected),
		errors.Is(err, crosschain.ErrBalanceUnderflow),
		errors.Is(err, crosschain.ErrCallerTransferAmount),
		errors.Is(err, crosschain.ErrNavImpactTooHigh),
		errors.Is(err, crosschain.ErrEffectiveSupplyTooLow),
		errors.Is(err, pool.ErrNothingMinted),
		errors.Is(err, nav.ErrNoPriceFeed),
		errors.Is(err, ledger.ErrOverflow):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var assets []common.Address
	var supply *uint256.Int
	s.view(func() {
		assets = s.pool.ActiveAssets()
		supply = s.pool.RealSupply()
	})
	json.NewEncoder(w).Encode(map[string]interface{}{
		"chain_id":          s.chainID,
		"pool":              s.pool.Address(),
		"base_token":        s.pool.BaseToken(),
		"decimals":          s.pool.Decimals(),
		"wrapped_native":    s.pool.WrappedNative(),
		"active_assets":     assets,
		"real_supply":       supply,
		"multicall_handler": s.executor.Handler(),
		"spoke_pool":        s.spoke.Address(),
		"peers":             s.cfg.Peers,
		"relayer":           s.cfg.RelayerURL,
		"height":            s.chain.Height(),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	holder, ok := parseAddress(vars["holder"])
	if !ok {
		badRequest(w, "invalid holder address")
		return
	}

	var balance *uint256.Int
	if strings.EqualFold(vars["token"], NativeToken) {
		s.view(func() { balance = s.state.NativeBalance(holder) })
	} else {
		token, ok := parseAddress(vars["token"])
		if !ok {
			badRequest(w, "invalid token address")
			return
		}
		s.view(func() { balance = s.state.TokenBalance(token, holder) })
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":   vars["token"],
		"holder":  holder.Hex(),
		"balance": balance,
	})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	addr, ok := parseAddress(req.Address)
	if !ok {
		badRequest(w, "invalid address")
		return
	}
	if req.Amount == nil || req.Amount.IsZero() {
		badRequest(w, "invalid amount")
		return
	}

	var fn func() error
	if req.Token == "" || strings.EqualFold(req.Token, NativeToken) {
		fn = func() error {
			s.state.AddNative(addr, req.Amount)
			return nil
		}
	} else {
		token, ok := parseAddress(req.Token)
		if !ok {
			badRequest(w, "invalid token address")
			return
		}
		fn = func() error { return s.state.MintToken(token, addr, req.Amount) }
	}

	txID, err := s.execute("faucet", fn)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "tx_id": txID})
}

func (s *Server) handleNav(w http.ResponseWriter, r *http.Request) {
	var st, stored nav.State
	var err error
	s.view(func() {
		st, err = s.pool.Engine().CurrentState()
		stored = s.pool.Engine().StoredState()
	})
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"current": st,
		"stored":  stored,
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	var snap ledger.Snapshot
	s.view(func() { snap = s.pool.Ledger().Read() })
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	holder, ok := parseAddress(req.Holder)
	if !ok {
		badRequest(w, "invalid holder address")
		return
	}

	var shares *uint256.Int
	txID, err := s.execute("mint", func() (err error) {
		shares, err = s.pool.Mint(holder, req.Amount)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "tx_id": txID, "shares": shares})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req BurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	holder, ok := parseAddress(req.Holder)
	if !ok {
		badRequest(w, "invalid holder address")
		return
	}

	var out *uint256.Int
	txID, err := s.execute("burn", func() (err error) {
		out, err = s.pool.Burn(holder, req.Shares)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "tx_id": txID, "amount": out})
}

func (s *Server) handleCrossChainTransfer(w http.ResponseWriter, r *http.Request) {
	var req crosschain.TransferParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}

	var deposit *bridge.Deposit
	txID, err := s.execute("crosschain_transfer", func() (err error) {
		deposit, err = s.initiator.Initiate(r.Context(), req)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "tx_id": txID, "deposit": deposit})
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	op, err := protocol.ParseOpType(mux.Vars(r)["opType"])
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if !op.Valid() {
		badRequest(w, "invalid op type "+op.String())
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"pool":    s.pool.Address(),
		"op_type": op.String(),
		"escrow":  escrow.Derive(s.pool.Address(), op),
	})
}

func (s *Server) handleClaimEscrow(w http.ResponseWriter, r *http.Request) {
	var req ClaimEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	token, ok := parseAddress(req.Token)
	if !ok {
		badRequest(w, "invalid token address")
		return
	}

	var amount *uint256.Int
	txID, err := s.execute("escrow_claim", func() (err error) {
		amount, err = s.initiator.ClaimEscrow(req.OpType, token)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "tx_id": txID, "amount": amount})
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Deposit == nil {
		badRequest(w, "missing deposit")
		return
	}
	amount := req.Amount
	if amount == nil {
		amount = req.Deposit.OutputAmount
	}

	var result *bridge.FillResult
	txID, err := s.execute("bridge_fill", func() (err error) {
		result, err = s.executor.Fill(req.Deposit, amount)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "tx_id": txID, "result": result})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Deposit == nil {
		badRequest(w, "missing deposit")
		return
	}

	txID, err := s.execute("bridge_refund", func() error {
		return s.spoke.Refund(req.Deposit)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "tx_id": txID})
}

func (s *Server) handleLatestBlock(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.chain.Latest())
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt := s.receipts.GetReceipt(mux.Vars(r)["txID"])
	if receipt == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "receipt not found"})
		return
	}
	json.NewEncoder(w).Encode(receipt)
}
