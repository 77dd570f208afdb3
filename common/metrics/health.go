package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type HealthMetrics struct {
	dependencyUp           metric.Int64ObservableGauge
	dependencyResponseTime metric.Float64Histogram
	serviceInfo            metric.Int64ObservableGauge

	mu           sync.RWMutex
	dependencies map[string]bool
}

func NewHealthMetrics(meter metric.Meter) (*HealthMetrics, error) {
	hm := &HealthMetrics{dependencies: make(map[string]bool)}

	var err error

	if hm.dependencyUp, err = meter.Int64ObservableGauge(
		"dependency.up",
		metric.WithDescription("Dependency availability status (1=up, 0=down)"),
		metric.WithUnit("{status}"),
	); err != nil {
		return nil, err
	}

	if hm.dependencyResponseTime, err = meter.Float64Histogram(
		"dependency.response_time",
		metric.WithDescription("Dependency health check response time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if hm.serviceInfo, err = meter.Int64ObservableGauge(
		"service.info",
		metric.WithDescription("Service metadata information"),
		metric.WithUnit("{info}"),
	); err != nil {
		return nil, err
	}

	return hm, nil
}

// RegisterServiceInfo exports a constant 1 labelled with build metadata.
func (hm *HealthMetrics) RegisterServiceInfo(meter metric.Meter, serviceName, version, env string) error {
	if hm == nil || hm.serviceInfo == nil || meter == nil {
		return nil
	}

	attrs := metric.WithAttributes(
		attribute.String("service_name", serviceName),
		attribute.String("version", version),
		attribute.String("environment", env),
	)
	_, err := meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(hm.serviceInfo, 1, attrs)
			return nil
		},
		hm.serviceInfo,
	)
	return err
}

// RegisterDependencies starts reporting dependency.up for each name.
// All dependencies start as down until the first successful check.
func (hm *HealthMetrics) RegisterDependencies(meter metric.Meter, names ...string) error {
	if hm == nil || hm.dependencyUp == nil || meter == nil {
		return nil
	}

	hm.mu.Lock()
	for _, name := range names {
		hm.dependencies[name] = false
	}
	hm.mu.Unlock()

	_, err := meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			hm.mu.RLock()
			defer hm.mu.RUnlock()
			for name, up := range hm.dependencies {
				value := int64(0)
				if up {
					value = 1
				}
				o.ObserveInt64(hm.dependencyUp, value, metric.WithAttributes(attribute.String("dependency", name)))
			}
			return nil
		},
		hm.dependencyUp,
	)
	return err
}

func (hm *HealthMetrics) RecordDependencyCheck(ctx context.Context, dependency string, duration time.Duration, err error) {
	if hm == nil {
		return
	}

	if hm.dependencyResponseTime != nil {
		hm.dependencyResponseTime.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("dependency", dependency)))
	}

	hm.mu.Lock()
	if hm.dependencies != nil {
		hm.dependencies[dependency] = err == nil
	}
	hm.mu.Unlock()
}

// DependencyUp reports the last known status of a dependency.
func (hm *HealthMetrics) DependencyUp(name string) bool {
	if hm == nil {
		return false
	}
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.dependencies[name]
}
