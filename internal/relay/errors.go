package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrAlreadyRegistered reports a second registration under a live ID.
	ErrAlreadyRegistered = errors.New("relay: connection already registered")
	// ErrConnClosed is returned by operations on a closed connection.
	ErrConnClosed = errors.New("relay: connection closed")
	// ErrSendQueueFull is returned when a recipient's outbound queue stayed
	// full for the whole send window.
	ErrSendQueueFull = errors.New("relay: send queue full")
	// ErrHubClosed is returned by Serve once Shutdown has started.
	ErrHubClosed = errors.New("relay: hub is shut down")
)

// ErrorKind classifies connection errors for logging and reporting.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindHandshake
	KindPeerClosed
	KindClosed
	KindRecv
	KindSend
	KindTimeout
	KindQueueFull
	KindRegistryInvariant
)

func (k ErrorKind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindPeerClosed:
		return "peer_closed"
	case KindClosed:
		return "closed"
	case KindRecv:
		return "recv"
	case KindSend:
		return "send"
	case KindTimeout:
		return "timeout"
	case KindQueueFull:
		return "queue_full"
	case KindRegistryInvariant:
		return "registry_invariant"
	default:
		return "unknown"
	}
}

// Error is a classified transport error.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("relay: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("relay: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the most specific kind known for err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrSendQueueFull):
		return KindQueueFull
	case errors.Is(err, ErrAlreadyRegistered):
		return KindRegistryInvariant
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, ErrConnClosed) || errors.Is(err, net.ErrClosed) {
		return KindClosed
	}
	return KindUnknown
}

// isQuietEnd reports whether a receive error is an ordinary end of session
// rather than a fault worth surfacing.
func isQuietEnd(err error) bool {
	switch KindOf(err) {
	case KindPeerClosed, KindClosed:
		return true
	}
	return false
}
