// Package room provides the per-room session worker: connection state machine,
// gift ingestion and the two-stage aggregation window.
package room

// State represents the connection state of a room session.
type State int

const (
	StateIdle         State = iota // No room connected yet
	StateConnecting                // Handshake in flight
	StateOnline                    // Receiving gifts
	StateRetrying                  // Waiting for the reconnect timer
	StateDisconnected              // Explicitly disconnected
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOnline:
		return "online"
	case StateRetrying:
		return "retrying"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Rebindable reports whether a different room may be bound in this state.
func (s State) Rebindable() bool {
	return s == StateIdle || s == StateDisconnected
}
