package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	schoolsCreated     metric.Int64Counter
	schoolsDeleted     metric.Int64Counter
	schoolsListViewed  metric.Int64Counter
	validationFailures metric.Int64Counter
}

func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.schoolsCreated, err = meter.Int64Counter(
		"school_service.schools.created",
		metric.WithDescription("Total number of schools created"),
		metric.WithUnit("{school}"),
	)
	if err != nil {
		return nil, err
	}

	m.schoolsDeleted, err = meter.Int64Counter(
		"school_service.schools.deleted",
		metric.WithDescription("Total number of schools deleted"),
		metric.WithUnit("{school}"),
	)
	if err != nil {
		return nil, err
	}

	m.schoolsListViewed, err = meter.Int64Counter(
		"school_service.schools.list_viewed",
		metric.WithDescription("Total number of times the schools list was viewed"),
		metric.WithUnit("{view}"),
	)
	if err != nil {
		return nil, err
	}

	m.validationFailures, err = meter.Int64Counter(
		"school_service.schools.validation_failures",
		metric.WithDescription("Total number of rejected school payload entries"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordSchoolsCreated(ctx context.Context, n int) {
	if m != nil && m.schoolsCreated != nil && n > 0 {
		m.schoolsCreated.Add(ctx, int64(n))
	}
}

func (m *Metrics) RecordSchoolDeleted(ctx context.Context) {
	if m != nil && m.schoolsDeleted != nil {
		m.schoolsDeleted.Add(ctx, 1)
	}
}

// RecordSchoolsListViewed tags the view with whether it was distance sorted.
func (m *Metrics) RecordSchoolsListViewed(ctx context.Context, sorted bool) {
	if m != nil && m.schoolsListViewed != nil {
		m.schoolsListViewed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("sorted", sorted)))
	}
}

func (m *Metrics) RecordValidationFailures(ctx context.Context, n int) {
	if m != nil && m.validationFailures != nil && n > 0 {
		m.validationFailures.Add(ctx, int64(n))
	}
}

// NewMock creates a no-op Metrics instance for testing
// The returned Metrics will safely ignore all Record* calls
func NewMock() *Metrics {
	return &Metrics{}
}
