package nav

import "errors"

var (
	// ErrNoPriceFeed is returned when a token without a price is valued.
	ErrNoPriceFeed = errors.New("no price feed")
	// ErrNavImpactTooHigh is returned when a transfer moves NAV more than the caller tolerates.
	ErrNavImpactTooHigh = errors.New("nav impact too high")
	// ErrEffectiveSupplyTooLow is returned when real plus virtual supply is
	// negative or below an eighth of the real supply.
	ErrEffectiveSupplyTooLow = errors.New("effective supply too low")
	// ErrZeroUnitaryValue is returned when shares are priced at a NAV of zero.
	ErrZeroUnitaryValue = errors.New("unitary value is zero")
)
