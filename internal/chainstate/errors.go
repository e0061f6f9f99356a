package chainstate

// Errors
var (
	ErrInsufficientFunds = &StateError{"insufficient funds"}
	ErrOverflow          = &StateError{"balance overflow"}
)

type StateError struct {
	msg string
}

func (e *StateError) Error() string {
	return e.msg
}
