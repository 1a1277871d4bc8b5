package connection

// State is a Connection's position in its lifecycle.
type State uint8

const (
	StateNew State = iota
	StateHandshaking
	StatePending
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHandshaking:
		return "handshaking"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Result is returned by upper-layer request handlers and conveyed to the
// peer via the response frame's failure bit.
type Result struct {
	Success bool
}

// Ok is a convenience Result constructor for the common success case.
func Ok() Result { return Result{Success: true} }

// Fail is a convenience Result constructor for a business-level failure that
// should still be acknowledged (not a hard protocol error).
func Fail() Result { return Result{Success: false} }
