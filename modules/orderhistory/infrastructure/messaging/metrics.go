package messaging

import (
	"context"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/shared/events"
	"github.com/rai/orderhistory-go/modules/shared/events/contracts"
)

// unknownEventType labels event types outside contracts.OrderEventTypes so
// that arbitrary type strings cannot grow the series count.
const unknownEventType = "unknown"

// IngestMetrics counts handled envelopes by outcome and times their handling.
type IngestMetrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewIngestMetrics creates the collectors and registers them on reg.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderhistory",
			Name:      "events_total",
			Help:      "Order events handled, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orderhistory",
			Name:      "event_processing_duration_seconds",
			Help:      "Time spent applying one order event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	reg.MustRegister(m.events, m.duration)
	return m
}

// Instrument wraps next so that every envelope it handles is recorded.
// Failed envelopes are counted under the "error" outcome.
func (m *IngestMetrics) Instrument(next EnvelopeHandler) EnvelopeHandler {
	return HandlerFunc(func(ctx context.Context, env events.Envelope) (domain.Outcome, error) {
		start := time.Now()
		outcome, err := next.Handle(ctx, env)

		label := outcome.String()
		if err != nil {
			label = "error"
		}
		eventType := unknownEventType
		if slices.Contains(contracts.OrderEventTypes, env.EventType) {
			eventType = env.EventType.String()
		}
		m.events.WithLabelValues(eventType, label).Inc()
		m.duration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		return outcome, err
	})
}
