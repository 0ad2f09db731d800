package session

import "fmt"

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateAwaitingQR
	StateConnected
	StateDisconnected
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingQR:
		return "awaiting_qr"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateIdle, StateAwaitingQR, StateConnected, StateDisconnected, StateLoggedOut} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", text)
}

// Status values reported over the API.
const (
	StatusConnected    = "connected"
	StatusPending      = "pending"
	StatusDisconnected = "disconnected"
)

// Status collapses the state into the coarse value clients poll for.
func (s State) Status() string {
	switch s {
	case StateConnected:
		return StatusConnected
	case StateIdle, StateAwaitingQR:
		return StatusPending
	default:
		return StatusDisconnected
	}
}
