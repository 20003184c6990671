// Package client implements the interactive relay client: one connection,
// a send path fed by user input and a receive path that prints what other
// users say.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/relaychat/internal/wsconn"
)

const (
	Prompt      = "You: "
	PeerLabel   = "Friend"
	exitCommand = "exit"
)

// ErrConnectionLost is returned by Run when the server goes away mid-session.
var ErrConnectionLost = errors.New("connection to server lost")

// Conn is the part of a relay connection the session needs.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Dial connects to the relay at url.
func Dial(ctx context.Context, url string, log zerolog.Logger) (*wsconn.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return wsconn.New(ws, url, wsconn.Options{Logger: log}), nil
}

// Session runs one interactive chat over conn.
type Session struct {
	conn Conn
	in   io.Reader
	out  *console
	log  zerolog.Logger

	closing  atomic.Bool
	lostOnce sync.Once
}

// NewSession returns a session reading user lines from in and writing
// the conversation to out.
func NewSession(conn Conn, in io.Reader, out io.Writer, log zerolog.Logger) *Session {
	return &Session{
		conn: conn,
		in:   in,
		out:  &console{w: out},
		log:  log,
	}
}

// Run blocks until the user types "exit", input ends, ctx is cancelled or
// the connection drops. Either path ending stops the other, and conn is
// always closed on return. Only a dropped connection yields an error.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, s.hangUp)
	defer func() {
		stop()
		s.hangUp()
	}()

	lines := scanLines(s.in, gctx.Done())
	g.Go(func() error { return s.sendLoop(gctx, lines) })
	g.Go(s.receiveLoop)
	return g.Wait()
}

// hangUp closes the connection on purpose, so the receive path does not
// report it as lost.
func (s *Session) hangUp() {
	if s.closing.Swap(true) {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("Error closing connection")
	}
}

// lost tells the user the server is gone, once, and returns
// ErrConnectionLost so the errgroup stops the other path.
func (s *Session) lost(cause error) error {
	s.lostOnce.Do(func() {
		s.log.Debug().Err(cause).Msg("Connection lost")
		s.out.print("\nConnection to server lost.\n")
	})
	return ErrConnectionLost
}

func (s *Session) sendLoop(ctx context.Context, lines <-chan string) error {
	for {
		s.out.print(Prompt)

		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				s.hangUp()
				return nil
			}
			line = l
		}

		if strings.EqualFold(line, exitCommand) {
			s.hangUp()
			return nil
		}

		if err := s.conn.Send(ctx, []byte(line)); err != nil {
			if s.closing.Load() {
				return nil
			}
			return s.lost(err)
		}
	}
}

func (s *Session) receiveLoop() error {
	for {
		message, err := s.conn.Receive()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			return s.lost(err)
		}
		s.out.print(fmt.Sprintf("\n%s: %s\n%s", PeerLabel, message, Prompt))
	}
}

// scanLines feeds input lines to a channel that is closed at end of input
// or once done is closed.
func scanLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

// console serializes writes from the send and receive paths.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.w, s)
}
