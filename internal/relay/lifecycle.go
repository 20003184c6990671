package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Serve drives conn through its whole life: it registers the connection,
// relays each received message to the other members, and deregisters and
// closes it when the peer leaves, the transport fails or ctx is cancelled.
//
// Serve takes ownership of conn. It returns nil for an ordinary end of
// session and the causing error otherwise; errors never escape to other
// connections.
func (h *Hub) Serve(ctx context.Context, conn Conn) (err error) {
	if !h.track() {
		_ = conn.Close()
		return ErrHubClosed
	}
	defer h.wg.Done()

	log := h.log.With().Str("conn_id", conn.ID()).Str("addr", conn.Addr()).Logger()

	h.transition(conn, StateConnecting)
	if err := h.registry.Register(conn); err != nil {
		log.Error().Err(err).Str("kind", KindRegistryInvariant.String()).Msg("Rejecting client with duplicate identity")
		_ = conn.Close()
		h.transition(conn, StateClosed)
		return fmt.Errorf("register %s: %w", conn.ID(), err)
	}
	// Shutdown may have taken its snapshot between track and Register.
	if h.isClosed() {
		h.registry.Deregister(conn)
		_ = conn.Close()
		h.transition(conn, StateClosed)
		return ErrHubClosed
	}
	h.transition(conn, StateRegistered)
	h.metrics.connectionOpened(ctx)
	log.Info().Int("clients", h.registry.Len()).Msg("Client registered")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	defer func() {
		stop()
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic in receive loop")
			err = fmt.Errorf("relay: panic serving %s: %v", conn.ID(), r)
		}
		h.transition(conn, StateClosing)
		h.registry.Deregister(conn)
		if cerr := conn.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("Error closing client connection")
		}
		h.metrics.connectionClosed(context.WithoutCancel(ctx))
		h.transition(conn, StateClosed)
		log.Info().Int("clients", h.registry.Len()).Msg("Client unregistered")
	}()

	h.transition(conn, StateActive)
	return h.receiveLoop(ctx, conn, log)
}

func (h *Hub) receiveLoop(ctx context.Context, conn Conn, log zerolog.Logger) error {
	for {
		payload, err := conn.Receive()
		if err != nil {
			return h.endOfSession(ctx, err, log)
		}

		h.metrics.messageReceived(ctx)
		report := h.broadcaster.Broadcast(ctx, conn, payload)
		log.Debug().
			Int("bytes", len(payload)).
			Int("attempted", report.Attempted).
			Int("failed", report.Failed).
			Msg("Relayed message")
	}
}

func (h *Hub) endOfSession(ctx context.Context, err error, log zerolog.Logger) error {
	switch {
	case ctx.Err() != nil:
		log.Debug().Err(err).Msg("Client closed by shutdown")
		return nil
	case isQuietEnd(err):
		log.Info().Err(err).Str("kind", KindOf(err).String()).Msg("Client disconnected")
		return nil
	default:
		log.Warn().Err(err).Str("kind", KindOf(err).String()).Msg("Client receive failed")
		return err
	}
}
