package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	m, err := NewMetrics(mp.Meter("test"), func(context.Context) (int64, error) { return 4, nil })
	require.NoError(t, err)

	m.TasksSynced.Add(ctx, 3)
	m.RequestCounter.Add(ctx, 1)

	got := collect(t, reader)

	gauge, ok := got["tasks_total"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)

	synced, ok := got["tasks_synced_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, synced.DataPoints, 1)
	assert.Equal(t, int64(3), synced.DataPoints[0].Value)
}

func TestNewMetrics_CountErrorSkipsObservation(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	_, err := NewMetrics(mp.Meter("test"), func(context.Context) (int64, error) {
		return 0, errors.New("store down")
	})
	require.NoError(t, err)

	got := collect(t, reader)
	if m, ok := got["tasks_total"]; ok {
		gauge, _ := m.Data.(metricdata.Gauge[int64])
		assert.Empty(t, gauge.DataPoints)
	}
}

func TestProvidersShutdownOrder(t *testing.T) {
	var order []string
	p := &Providers{shutdowns: []func(context.Context) error{
		func(context.Context) error { order = append(order, "trace"); return nil },
		func(context.Context) error { order = append(order, "metric"); return errors.New("flush failed") },
		func(context.Context) error { order = append(order, "log"); return nil },
	}}

	err := p.Shutdown(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"log", "metric", "trace"}, order)
}
