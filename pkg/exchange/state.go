package exchange

import "errors"

// State is the capture state of an Exchange.
type State string

// Exchange states.
const (
	StatePending   State = "pending"
	StateCapturing State = "capturing"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
)

// Transition errors.
var (
	ErrTerminal          = errors.New("exchange is terminal")
	ErrInvalidTransition = errors.New("invalid exchange state transition")
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateCapturing, StateComplete, StateFailed:
		return true
	default:
		return false
	}
}
