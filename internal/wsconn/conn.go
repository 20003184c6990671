// Package wsconn adapts a gorilla WebSocket connection to relay.Conn.
//
// Each Conn owns a write pump goroutine that drains a bounded outbound
// queue, applies write deadlines and keeps the peer alive with pings.
// Reads happen on the caller's goroutine through Receive.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/relay"
)

// Options tunes a Conn. Zero fields take the defaults below.
type Options struct {
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// PongWait is how long the peer may stay silent before the read fails.
	PongWait time.Duration
	// PingPeriod must be shorter than PongWait.
	PingPeriod time.Duration
	// QueueSize is the capacity of the outbound queue.
	QueueSize int
	Logger    zerolog.Logger
}

const (
	defaultWriteWait = 10 * time.Second
	defaultPongWait  = 60 * time.Second
	defaultQueueSize = 256
	closeGracePeriod = time.Second
)

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	return o
}

// Conn is a relay.Conn backed by a *websocket.Conn.
type Conn struct {
	ws   *websocket.Conn
	id   string
	addr string
	opts Options
	log  zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ relay.Conn = (*Conn)(nil)

// New wraps ws and starts its write pump. addr is the remote address used
// in log lines; an empty addr falls back to ws.RemoteAddr().
func New(ws *websocket.Conn, addr string, opts Options) *Conn {
	opts = opts.withDefaults()
	if addr == "" {
		addr = ws.RemoteAddr().String()
	}
	id := uuid.NewString()

	c := &Conn{
		ws:   ws,
		id:   id,
		addr: addr,
		opts: opts,
		log:  opts.Logger.With().Str("conn_id", id).Str("addr", addr).Logger(),
		send: make(chan []byte, opts.QueueSize),
		done: make(chan struct{}),
	}
	c.setupReadConnection()
	go c.writePump()
	return c
}

func (c *Conn) ID() string   { return c.id }
func (c *Conn) Addr() string { return c.addr }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues payload for the write pump. It waits for queue space until
// ctx ends and fails fast once the connection is closed.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return relay.ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return relay.ErrConnClosed
	case <-ctx.Done():
		return fmt.Errorf("send to %s: %w: %w", c.id, relay.ErrSendQueueFull, ctx.Err())
	}
}

// Receive returns the next text frame. Binary frames are skipped.
func (c *Conn) Receive() ([]byte, error) {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, classifyReadError(err)
		}
		if messageType != websocket.TextMessage {
			c.log.Debug().Int("type", messageType).Msg("Ignoring non-text frame")
			continue
		}
		return data, nil
	}
}

// Close stops the write pump, sends a best-effort close frame and closes
// the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("Error writing close frame")
		}
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// setupReadConnection configures the read deadline and pong handler.
func (c *Conn) setupReadConnection() {
	if err := c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		c.log.Debug().Err(err).Msg("Error setting initial read deadline")
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			if err := c.writeText(message); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn().Err(err).Msg("Error writing message")
				}
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn().Err(err).Msg("Error writing ping")
				}
				return
			}
		}
	}
}

// writeText writes one text frame. Queued messages are never coalesced so
// every payload reaches the peer as its own frame.
func (c *Conn) writeText(message []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, message)
}

func classifyReadError(err error) error {
	kind := relay.KindRecv
	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		kind = relay.KindPeerClosed
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		kind = relay.KindClosed
	}
	return &relay.Error{Op: "receive", Kind: kind, Err: err}
}

// isExpectedCloseError reports errors that are routine while a connection
// is being torn down.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
