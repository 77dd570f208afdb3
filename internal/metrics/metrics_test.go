package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func sums(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Sum[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func total(sum metricdata.Sum[int64]) int64 {
	var n int64
	for _, dp := range sum.DataPoints {
		n += dp.Value
	}
	return n
}

func TestMetrics_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(provider.Meter("school-service"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSchoolsCreated(ctx, 3)
	m.RecordSchoolsCreated(ctx, 0)
	m.RecordSchoolDeleted(ctx)
	m.RecordSchoolsListViewed(ctx, true)
	m.RecordSchoolsListViewed(ctx, false)
	m.RecordSchoolsListViewed(ctx, false)
	m.RecordValidationFailures(ctx, 2)

	got := sums(t, reader)
	assert.EqualValues(t, 3, total(got["school_service.schools.created"]))
	assert.EqualValues(t, 1, total(got["school_service.schools.deleted"]))
	assert.EqualValues(t, 3, total(got["school_service.schools.list_viewed"]))
	assert.EqualValues(t, 2, total(got["school_service.schools.validation_failures"]))

	for _, dp := range got["school_service.schools.list_viewed"].DataPoints {
		sorted, ok := dp.Attributes.Value(attribute.Key("sorted"))
		require.True(t, ok)
		if sorted.AsBool() {
			assert.EqualValues(t, 1, dp.Value)
		} else {
			assert.EqualValues(t, 2, dp.Value)
		}
	}
}

func TestNewMock_IgnoresRecords(t *testing.T) {
	ctx := context.Background()

	for _, m := range []*Metrics{NewMock(), nil} {
		assert.NotPanics(t, func() {
			m.RecordSchoolsCreated(ctx, 1)
			m.RecordSchoolDeleted(ctx)
			m.RecordSchoolsListViewed(ctx, true)
			m.RecordValidationFailures(ctx, 1)
		})
	}
}
