package messaging_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/orderhistory/infrastructure/messaging"
	"github.com/rai/orderhistory-go/modules/shared/events"
	"github.com/rai/orderhistory-go/modules/shared/events/contracts"
)

func TestIngestMetrics_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := messaging.NewIngestMetrics(reg)

	results := []struct {
		outcome domain.Outcome
		err     error
	}{
		{domain.OutcomeApplied, nil},
		{domain.OutcomeDuplicate, nil},
		{domain.OutcomeApplied, nil},
		{"", domain.ErrStorageUnavailable},
	}
	calls := 0
	handler := m.Instrument(messaging.HandlerFunc(func(ctx context.Context, env events.Envelope) (domain.Outcome, error) {
		r := results[calls]
		calls++
		return r.outcome, r.err
	}))

	env := events.Envelope{EventType: contracts.OrderCancelledEventType}
	for range results {
		_, _ = handler.Handle(context.Background(), env)
	}

	want := `
# HELP orderhistory_events_total Order events handled, by event type and outcome.
# TYPE orderhistory_events_total counter
orderhistory_events_total{event_type="orders.OrderCancelled",outcome="applied"} 2
orderhistory_events_total{event_type="orders.OrderCancelled",outcome="duplicate"} 1
orderhistory_events_total{event_type="orders.OrderCancelled",outcome="error"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "orderhistory_events_total"); err != nil {
		t.Error(err)
	}
	if got := testutil.CollectAndCount(reg, "orderhistory_event_processing_duration_seconds"); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestIngestMetrics_CollapsesUnknownEventTypes(t *testing.T) {
	reg := prometheus.NewRegistry()
	handler := messaging.NewIngestMetrics(reg).Instrument(messaging.HandlerFunc(func(ctx context.Context, env events.Envelope) (domain.Outcome, error) {
		return domain.OutcomeIgnored, nil
	}))

	for _, eventType := range []events.EventType{"orders.OrderAuthorized", "x-1", "x-2", contracts.OrderApprovedEventType} {
		_, _ = handler.Handle(context.Background(), events.Envelope{EventType: eventType})
	}

	want := `
# HELP orderhistory_events_total Order events handled, by event type and outcome.
# TYPE orderhistory_events_total counter
orderhistory_events_total{event_type="orders.OrderApproved",outcome="ignored"} 1
orderhistory_events_total{event_type="unknown",outcome="ignored"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "orderhistory_events_total"); err != nil {
		t.Error(err)
	}
	if got := testutil.CollectAndCount(reg, "orderhistory_event_processing_duration_seconds"); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestIngestMetrics_PassesResultThrough(t *testing.T) {
	m := messaging.NewIngestMetrics(prometheus.NewRegistry())
	errDown := errors.New("down")
	handler := m.Instrument(messaging.HandlerFunc(func(ctx context.Context, env events.Envelope) (domain.Outcome, error) {
		return domain.OutcomeNoChange, errDown
	}))

	outcome, err := handler.Handle(context.Background(), events.Envelope{EventType: "x"})
	if outcome != domain.OutcomeNoChange || !errors.Is(err, errDown) {
		t.Fatalf("got %s, %v", outcome, err)
	}
}
