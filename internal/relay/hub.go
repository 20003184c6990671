package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

// Config tunes a Hub. The zero value is usable.
type Config struct {
	// SendTimeout bounds each per-recipient send during a broadcast.
	SendTimeout time.Duration
	// MaxConcurrentSends caps in-flight sends within one broadcast.
	MaxConcurrentSends int
	Logger             zerolog.Logger
	// Meter receives the relay instruments; nil uses the global provider.
	Meter metric.Meter
	// OnStateChange, if set, observes every lifecycle transition.
	OnStateChange func(connID string, state State)
}

// Hub ties the registry, the broadcaster and the per-connection lifecycle
// together. A Hub lives from server start to Shutdown.
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster
	log         zerolog.Logger
	metrics     *Metrics
	onState     func(string, State)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates a Hub with an empty registry.
func NewHub(cfg Config) *Hub {
	log := cfg.Logger.With().Str("component", "hub").Logger()

	metrics, err := NewMetrics(cfg.Meter)
	if err != nil {
		log.Warn().Err(err).Msg("Relay metrics unavailable, continuing without them")
		metrics = noopMetrics()
	}

	registry := NewRegistry()
	return &Hub{
		registry:    registry,
		broadcaster: NewBroadcaster(registry, cfg.SendTimeout, cfg.MaxConcurrentSends, log, metrics),
		log:         log,
		metrics:     metrics,
		onState:     cfg.OnStateChange,
	}
}

// Registry exposes the hub's registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Broadcast relays payload from sender to every other member.
func (h *Hub) Broadcast(ctx context.Context, from Conn, payload []byte) Report {
	return h.broadcaster.Broadcast(ctx, from, payload)
}

// track reserves a slot for a new Serve call; it fails once shutdown began.
func (h *Hub) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	return true
}

// isClosed reports whether Shutdown has begun.
func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) markClosed() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

// Shutdown refuses new connections, closes every live one and waits for
// their handlers to deregister. It returns context.DeadlineExceeded if the
// handlers have not finished within timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("Initiating hub shutdown")
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	h.markClosed()

	closed := h.registry.CloseAll()
	h.log.Info().Int("clients", closed).Msg("Closed client connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-timer.C:
		select {
		case <-done:
		default:
			h.log.Warn().Int("clients", h.registry.Len()).Msg("Hub shutdown timeout reached, some handlers are still running")
			return context.DeadlineExceeded
		}
	}
	h.log.Info().Msg("Hub shutdown completed")
	return nil
}

func (h *Hub) transition(conn Conn, state State) {
	h.log.Trace().Str("conn_id", conn.ID()).Str("state", state.String()).Msg("State change")
	if h.onState != nil {
		h.onState(conn.ID(), state)
	}
}
