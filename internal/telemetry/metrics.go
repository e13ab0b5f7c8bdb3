// Package telemetry exports roomcast counters through OpenTelemetry.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally and tests can pass nil.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments for the pub/sub core.
type Metrics struct {
	joins              metric.Int64Counter
	publishes          metric.Int64Counter
	droppedPublishes   metric.Int64Counter
	deliveries         metric.Int64Counter
	deliveryFailures   metric.Int64Counter
	retainedWrites     metric.Int64Counter
	retainedFailures   metric.Int64Counter
	subscriptionsCount metric.Int64UpDownCounter
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.joins, "roomcast.joins.total", "Join requests accepted"},
		{&m.publishes, "roomcast.publishes.total", "Messages published to a topic"},
		{&m.droppedPublishes, "roomcast.publishes.dropped.total", "Publishes rejected because the sender had not joined"},
		{&m.deliveries, "roomcast.deliveries.total", "Events handed to a connection"},
		{&m.deliveryFailures, "roomcast.deliveries.failed.total", "Events a connection could not accept"},
		{&m.retainedWrites, "roomcast.retained.writes.total", "Retained snapshot writes"},
		{&m.retainedFailures, "roomcast.retained.writes.failed.total", "Retained snapshot writes that failed"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.subscriptionsCount, err = meter.Int64UpDownCounter(
		"roomcast.subscriptions.active",
		metric.WithDescription("Connections currently joined to a topic"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptions gauge: %w", err)
	}

	return m, nil
}

// RecordJoin records an accepted join. newSubscription is false for a
// re-join, which does not change the number of subscriptions.
func (m *Metrics) RecordJoin(ctx context.Context, newSubscription bool) {
	if m == nil {
		return
	}
	m.joins.Add(ctx, 1)
	if newSubscription {
		m.subscriptionsCount.Add(ctx, 1)
	}
}

// RecordLeave records a subscription being removed.
func (m *Metrics) RecordLeave(ctx context.Context) {
	if m == nil {
		return
	}
	m.subscriptionsCount.Add(ctx, -1)
}

// RecordPublish records a publish that was broadcast.
func (m *Metrics) RecordPublish(ctx context.Context, retain bool) {
	if m == nil {
		return
	}
	m.publishes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("retain", retain)))
}

// RecordDroppedPublish records a publish from a connection with no topic.
func (m *Metrics) RecordDroppedPublish(ctx context.Context) {
	if m == nil {
		return
	}
	m.droppedPublishes.Add(ctx, 1)
}

// RecordDeliveries records the outcome of one fan-out.
func (m *Metrics) RecordDeliveries(ctx context.Context, event string, delivered, failed int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("event", event))
	if delivered > 0 {
		m.deliveries.Add(ctx, int64(delivered), attrs)
	}
	if failed > 0 {
		m.deliveryFailures.Add(ctx, int64(failed), attrs)
	}
}

// RecordRetainedWrite records a retained store mutation and whether it
// reached storage.
func (m *Metrics) RecordRetainedWrite(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.retainedWrites.Add(ctx, 1)
	if err != nil {
		m.retainedFailures.Add(ctx, 1)
	}
}
