package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Tyrowin/roomcast/internal/config"
)

func setupMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

// sums collects every int64 sum instrument, totalled across attributes.
func sums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestMetrics_Record(t *testing.T) {
	m, reader := setupMetrics(t)
	ctx := context.Background()

	m.RecordJoin(ctx, true)
	m.RecordJoin(ctx, true)
	m.RecordJoin(ctx, false)
	m.RecordLeave(ctx)
	m.RecordPublish(ctx, true)
	m.RecordPublish(ctx, false)
	m.RecordDroppedPublish(ctx)
	m.RecordDeliveries(ctx, "ReceiveMessage", 3, 1)
	m.RecordRetainedWrite(ctx, nil)
	m.RecordRetainedWrite(ctx, errors.New("disk full"))

	got := sums(t, reader)
	assert.Equal(t, int64(3), got["roomcast.joins.total"])
	assert.Equal(t, int64(1), got["roomcast.subscriptions.active"])
	assert.Equal(t, int64(2), got["roomcast.publishes.total"])
	assert.Equal(t, int64(1), got["roomcast.publishes.dropped.total"])
	assert.Equal(t, int64(3), got["roomcast.deliveries.total"])
	assert.Equal(t, int64(1), got["roomcast.deliveries.failed.total"])
	assert.Equal(t, int64(2), got["roomcast.retained.writes.total"])
	assert.Equal(t, int64(1), got["roomcast.retained.writes.failed.total"])
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordJoin(ctx, true)
		m.RecordLeave(ctx)
		m.RecordPublish(ctx, true)
		m.RecordDroppedPublish(ctx)
		m.RecordDeliveries(ctx, "ConnectedUsers", 1, 1)
		m.RecordRetainedWrite(ctx, nil)
	})
}

func TestInitProvider_Disabled(t *testing.T) {
	m, shutdown, err := InitProvider(context.Background(), config.MetricsConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NoError(t, shutdown(context.Background()))
}
