// Package observability wires kgraph metrics into the OpenTelemetry metric
// API. Callers construct a Recorder from any metric.MeterProvider; with the
// API's noop provider the recorder costs nothing, so components can record
// unconditionally.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/unknown-philosopher/kgraph/internal/events"
)

// Metric name constants. Centralized so producers and dashboards agree.
const (
	MetricEventsPublished    = "kgraph.events.published"
	MetricEventHandlerPanics = "kgraph.events.handler_panics"
	MetricEventSubscribers   = "kgraph.events.subscribers"

	MetricDedupCandidates = "kgraph.dedup.candidates"
	MetricDedupMerges     = "kgraph.dedup.merges"
	MetricDedupRejections = "kgraph.dedup.rejections"
)

// Recorder implements events.MetricsRecorder over OpenTelemetry counters
// and carries the deduplication counters alongside.
type Recorder struct {
	published   metric.Int64Counter
	panics      metric.Int64Counter
	subscribers metric.Int64UpDownCounter
	candidates  metric.Int64Counter
	merges      metric.Int64Counter
	rejections  metric.Int64Counter
}

// NewRecorder creates a Recorder from a meter provider.
func NewRecorder(provider metric.MeterProvider) (*Recorder, error) {
	meter := provider.Meter("github.com/unknown-philosopher/kgraph")

	published, err := meter.Int64Counter(MetricEventsPublished,
		metric.WithDescription("Events published to the bus"))
	if err != nil {
		return nil, err
	}
	panics, err := meter.Int64Counter(MetricEventHandlerPanics,
		metric.WithDescription("Handler panics recovered during dispatch"))
	if err != nil {
		return nil, err
	}
	subscribers, err := meter.Int64UpDownCounter(MetricEventSubscribers,
		metric.WithDescription("Active bus subscriptions"))
	if err != nil {
		return nil, err
	}
	candidates, err := meter.Int64Counter(MetricDedupCandidates,
		metric.WithDescription("Duplicate candidates evaluated"))
	if err != nil {
		return nil, err
	}
	merges, err := meter.Int64Counter(MetricDedupMerges,
		metric.WithDescription("Entity merges committed"))
	if err != nil {
		return nil, err
	}
	rejections, err := meter.Int64Counter(MetricDedupRejections,
		metric.WithDescription("Duplicate candidates rejected"))
	if err != nil {
		return nil, err
	}

	return &Recorder{
		published:   published,
		panics:      panics,
		subscribers: subscribers,
		candidates:  candidates,
		merges:      merges,
		rejections:  rejections,
	}, nil
}

// RecordPublish counts one publish and the handlers it fanned out to.
func (r *Recorder) RecordPublish(topic string, handlerCount int) {
	r.published.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.Int("handlers", handlerCount),
		))
}

// RecordHandlerPanic counts one recovered handler panic.
func (r *Recorder) RecordHandlerPanic(topic string) {
	r.panics.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordSubscriberAdded counts a new subscription.
func (r *Recorder) RecordSubscriberAdded(topic string) {
	r.subscribers.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordSubscriberRemoved counts a removed subscription.
func (r *Recorder) RecordSubscriberRemoved(topic string) {
	r.subscribers.Add(context.Background(), -1,
		metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordDedupPass counts the outcome of one deduplication pass.
func (r *Recorder) RecordDedupPass(ctx context.Context, candidates, merged, rejected int) {
	r.candidates.Add(ctx, int64(candidates))
	r.merges.Add(ctx, int64(merged))
	r.rejections.Add(ctx, int64(rejected))
}

var _ events.MetricsRecorder = (*Recorder)(nil)
