// state.go — Transaction states for one metered tool invocation.
package txn

// State is the lifecycle position of a transaction.
type State int

const (
	StateRequested State = iota
	StateReserved
	StateExecuting
	StateSettling
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "REQUESTED"
	case StateReserved:
		return "RESERVED"
	case StateExecuting:
		return "EXECUTING"
	case StateSettling:
		return "SETTLING"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// transitions lists the only legal moves. Host failures do not abort: they settle.
var transitions = map[State][]State{
	StateRequested: {StateReserved, StateAborted},
	StateReserved:  {StateExecuting},
	StateExecuting: {StateSettling},
	StateSettling:  {StateDone},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}
