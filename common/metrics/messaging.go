package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type MessagingMetrics struct {
	messagesPublished metric.Int64Counter
	publishDuration   metric.Float64Histogram
	messageErrors     metric.Int64Counter
}

func NewMessagingMetrics(meter metric.Meter) (*MessagingMetrics, error) {
	mm := &MessagingMetrics{}

	var err error

	if mm.messagesPublished, err = meter.Int64Counter(
		"messaging.messages.published",
		metric.WithDescription("Total number of messages published"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, err
	}

	if mm.publishDuration, err = meter.Float64Histogram(
		"messaging.message.publish_duration",
		metric.WithDescription("Time spent publishing a message"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if mm.messageErrors, err = meter.Int64Counter(
		"messaging.messages.errors",
		metric.WithDescription("Total number of messages that failed to publish"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	return mm, nil
}

// RecordPublish records one publish attempt on a NATS subject or Kafka topic.
func (mm *MessagingMetrics) RecordPublish(ctx context.Context, system, destination string, duration time.Duration, err error) {
	if mm == nil || mm.messagesPublished == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("messaging.system", system),
		attribute.String("messaging.destination", destination),
	)

	if err != nil {
		mm.messageErrors.Add(ctx, 1, attrs)
		return
	}
	mm.messagesPublished.Add(ctx, 1, attrs)
	mm.publishDuration.Record(ctx, duration.Seconds(), attrs)
}
