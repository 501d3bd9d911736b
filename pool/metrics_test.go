package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetrics(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := newMetrics(mp.Meter("test"))

	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NotNil(t, m.lookupDuration)
	assert.NotNil(t, m.discards)
}

func TestRecordLookup(t *testing.T) {
	tests := []struct {
		name   string
		status string
	}{
		{
			name:   "given cached lookup, then records with cached status",
			status: lookupCached,
		},
		{
			name:   "given promoted lookup, then records with promoted status",
			status: lookupPromoted,
		},
		{
			name:   "given failed lookup, then records with error status",
			status: lookupError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
			defer mp.Shutdown(context.Background())

			m, err := newMetrics(mp.Meter("test"))
			require.NoError(t, err)

			ctx := context.Background()
			m.recordLookup(ctx, 5*time.Millisecond, "main", tt.status)

			var rm metricdata.ResourceMetrics
			err = reader.Collect(ctx, &rm)
			require.NoError(t, err)
			assert.NotEmpty(t, rm.ScopeMetrics)
		})
	}
}

func TestRecordDiscard(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := newMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.recordDiscard(ctx, "main")

	var rm metricdata.ResourceMetrics
	err = reader.Collect(ctx, &rm)
	require.NoError(t, err)
	assert.NotEmpty(t, rm.ScopeMetrics)
}

func TestRecordLookup_NilMetrics(t *testing.T) {
	t.Run("given nil metrics, then does not panic", func(t *testing.T) {
		var m *metrics

		assert.NotPanics(t, func() {
			m.recordLookup(context.Background(), time.Second, "main", lookupCached)
		})
	})
}

func TestRecordDiscard_NilMetrics(t *testing.T) {
	t.Run("given nil metrics, then does not panic", func(t *testing.T) {
		var m *metrics

		assert.NotPanics(t, func() {
			m.recordDiscard(context.Background(), "main")
		})
	})
}
