package crosschain

import (
	"errors"

	"github.com/sharding-experiment/navpool/internal/nav"
)

// Errors
var (
	ErrDonationLock               = errors.New("donation lock")
	ErrBalanceUnderflow           = errors.New("balance underflow")
	ErrCallerTransferAmount       = errors.New("caller transfer amount")
	ErrUnsupportedCrossChainToken = errors.New("unsupported cross-chain token")
	ErrNavManipulationDetected    = errors.New("nav manipulation detected")
	ErrInvalidOpType              = errors.New("invalid op type")
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrNullAddress                = errors.New("null address")
	ErrSameChainTransfer          = errors.New("same chain transfer")
	ErrUnsupportedChain           = errors.New("unsupported chain")
	ErrNothingToClaim             = errors.New("nothing to claim")

	ErrNavImpactTooHigh      = nav.ErrNavImpactTooHigh
	ErrEffectiveSupplyTooLow = nav.ErrEffectiveSupplyTooLow
)
