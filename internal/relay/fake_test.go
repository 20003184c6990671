package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeConn is an in-memory Conn. Receive yields whatever is pushed to inbox
// and fails once the connection is closed.
type fakeConn struct {
	id    string
	inbox chan []byte

	sendErr   error
	sendBlock bool

	mu   sync.Mutex
	sent [][]byte

	closeOnce sync.Once
	closed    chan struct{}
	closes    atomic.Int32
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:     id,
		inbox:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ID() string   { return c.id }
func (c *fakeConn) Addr() string { return "fake/" + c.id }

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.sendBlock {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return ErrConnClosed
		}
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case payload, ok := <-c.inbox:
		if !ok {
			return nil, &Error{Op: "receive", Kind: KindPeerClosed}
		}
		return payload, nil
	case <-c.closed:
		return nil, ErrConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, payload := range c.sent {
		out[i] = string(payload)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// panicConn panics on its first Receive.
type panicConn struct {
	*fakeConn
}

func (c *panicConn) Receive() ([]byte, error) {
	panic("receive exploded")
}

// panicSendConn panics on every Send.
type panicSendConn struct {
	*fakeConn
}

func (c *panicSendConn) Send(context.Context, []byte) error {
	panic("send exploded")
}

// slowCloseConn takes delay to close, like a socket whose close frame
// cannot be flushed.
type slowCloseConn struct {
	*fakeConn
	delay time.Duration
}

func (c *slowCloseConn) Close() error {
	time.Sleep(c.delay)
	return c.fakeConn.Close()
}
