package relay

import "context"

// Conn is one live duplex channel to a remote peer.
//
// Send must be safe to call concurrently with Receive and with other Send
// calls. Close must be idempotent and must not block on a broken transport.
type Conn interface {
	// ID returns an identity unique among live connections.
	ID() string
	// Addr returns the remote address, used for logging only.
	Addr() string
	// Send delivers one text payload. Implementations must honor ctx
	// cancellation so a stalled peer cannot hold up the caller.
	Send(ctx context.Context, payload []byte) error
	// Receive blocks until the next text payload arrives or the connection
	// ends.
	Receive() ([]byte, error)
	Close() error
}

// State is the lifecycle state of a served connection.
type State int

const (
	StateConnecting State = iota
	StateRegistered
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
