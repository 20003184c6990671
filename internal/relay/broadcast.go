package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSendTimeout   = 5 * time.Second
	defaultMaxConcurrent = 64
)

// Failure describes one recipient that could not be reached.
type Failure struct {
	ConnID string
	Kind   ErrorKind
	Err    error
}

// Report summarizes one broadcast.
type Report struct {
	Attempted int
	Succeeded int
	Failed    int
	Failures  []Failure
}

// Broadcaster fans a message out to every registered connection except its
// sender. Recipients whose send fails are evicted from the registry and
// closed so their own handlers wind down.
type Broadcaster struct {
	registry      *Registry
	sendTimeout   time.Duration
	maxConcurrent int
	log           zerolog.Logger
	metrics       *Metrics
}

// NewBroadcaster returns a Broadcaster over registry. Zero sendTimeout or
// maxConcurrent select the defaults.
func NewBroadcaster(registry *Registry, sendTimeout time.Duration, maxConcurrent int, log zerolog.Logger, metrics *Metrics) *Broadcaster {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	if metrics == nil {
		metrics = noopMetrics()
	}
	return &Broadcaster{
		registry:      registry,
		sendTimeout:   sendTimeout,
		maxConcurrent: maxConcurrent,
		log:           log,
		metrics:       metrics,
	}
}

// Broadcast delivers payload to every member except from. It never returns
// an error: per-recipient failures are collected in the report.
func (b *Broadcaster) Broadcast(ctx context.Context, from Conn, payload []byte) Report {
	recipients := b.registry.Snapshot(from)
	report := Report{Attempted: len(recipients)}
	if len(recipients) == 0 {
		return report
	}

	// Plain Group, not WithContext: one failed recipient must not cancel
	// its siblings.
	results := make([]error, len(recipients))
	var g errgroup.Group
	g.SetLimit(b.maxConcurrent)
	for i, recipient := range recipients {
		g.Go(func() error {
			results[i] = b.send(ctx, recipient, payload)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range results {
		if err == nil {
			report.Succeeded++
			continue
		}
		recipient := recipients[i]
		report.Failed++
		report.Failures = append(report.Failures, Failure{
			ConnID: recipient.ID(),
			Kind:   KindOf(err),
			Err:    err,
		})
		b.evict(recipient, err)
	}

	b.metrics.recordReport(context.WithoutCancel(ctx), report)
	return report
}

// send delivers to one recipient under the per-recipient timeout. A panic
// in the transport is reported as a failed send.
func (b *Broadcaster) send(ctx context.Context, recipient Conn, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Op: "send", Kind: KindSend, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()
	return recipient.Send(sendCtx, payload)
}

// evict removes conn from the registry and closes it on its own goroutine.
// Close may block on a stalled transport.
func (b *Broadcaster) evict(conn Conn, cause error) {
	if !b.registry.Deregister(conn) {
		return
	}
	b.log.Warn().
		Err(cause).
		Str("conn_id", conn.ID()).
		Str("addr", conn.Addr()).
		Str("kind", KindOf(cause).String()).
		Msg("Evicting client after failed send")
	go func() {
		if err := conn.Close(); err != nil {
			b.log.Debug().Err(err).Str("conn_id", conn.ID()).Msg("Error closing evicted client")
		}
	}()
}
