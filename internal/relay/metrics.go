package relay

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Tyrowin/relaychat/internal/relay"

var (
	outcomeOK     = metric.WithAttributes(attribute.String("outcome", "ok"))
	outcomeFailed = metric.WithAttributes(attribute.String("outcome", "failed"))
)

// Metrics holds the relay's OpenTelemetry instruments.
type Metrics struct {
	active     metric.Int64UpDownCounter
	received   metric.Int64Counter
	deliveries metric.Int64Counter
}

// NewMetrics creates the relay instruments on meter. A nil meter uses the
// global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	active, err := meter.Int64UpDownCounter("relay.connections.active",
		metric.WithDescription("Number of registered connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating relay.connections.active: %w", err)
	}

	received, err := meter.Int64Counter("relay.messages.received",
		metric.WithDescription("Total messages received from clients"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating relay.messages.received: %w", err)
	}

	deliveries, err := meter.Int64Counter("relay.deliveries",
		metric.WithDescription("Broadcast delivery attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating relay.deliveries: %w", err)
	}

	return &Metrics{active: active, received: received, deliveries: deliveries}, nil
}

func noopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

func (m *Metrics) connectionOpened(ctx context.Context) {
	m.active.Add(ctx, 1)
}

func (m *Metrics) connectionClosed(ctx context.Context) {
	m.active.Add(ctx, -1)
}

func (m *Metrics) messageReceived(ctx context.Context) {
	m.received.Add(ctx, 1)
}

func (m *Metrics) recordReport(ctx context.Context, report Report) {
	if report.Succeeded > 0 {
		m.deliveries.Add(ctx, int64(report.Succeeded), outcomeOK)
	}
	if report.Failed > 0 {
		m.deliveries.Add(ctx, int64(report.Failed), outcomeFailed)
	}
}
