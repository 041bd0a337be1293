package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInitOTel_Disabled(t *testing.T) {
	logger := NewLogger(logrus.InfoLevel, FormatJSON, &bytes.Buffer{})

	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, logger)
	assert.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, ShutdownOTel(context.Background(), providers, logger))
}

func TestOTelConfigSampleRatio(t *testing.T) {
	assert.Equal(t, 1.0, OTelConfig{}.sampleRatio())
	assert.Equal(t, 1.0, OTelConfig{SampleRatio: 3}.sampleRatio())
	assert.Equal(t, 0.25, OTelConfig{SampleRatio: 0.25}.sampleRatio())
}

func TestTracerIsUsableWithoutSDK(t *testing.T) {
	_, span := Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.IsRecording())
}

func TestOTelMetricsRecordReconcile(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewOTelMetricsWithProvider(provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordReconcile(ctx, "success", 50*time.Millisecond, 2, 1, 0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		byName[md.Name] = md
	}

	sum, ok := byName["people.registration.memberships"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
	assert.Len(t, sum.DataPoints, 2, "zero counts are not recorded")

	assert.Contains(t, byName, "people.registration.reconciles")
	assert.Contains(t, byName, "people.registration.duration")

	var nilMetrics *OTelMetrics
	assert.NotPanics(t, func() { nilMetrics.RecordReconcile(ctx, "success", 0, 1, 0, 0) })
}
