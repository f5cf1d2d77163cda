// Package eventhandlers turns inbound order lifecycle events into order
// history mutations.
package eventhandlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rai/orderhistory-go/modules/orderhistory/application/commands"
	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/shared/events"
	"github.com/rai/orderhistory-go/modules/shared/events/contracts"
)

const tracerName = "github.com/rai/orderhistory-go/modules/orderhistory/application/eventhandlers"

// statusEvents maps lifecycle event types to the status they move an order to.
var statusEvents = map[events.EventType]domain.Status{
	contracts.OrderApprovedEventType:  domain.StatusApproved,
	contracts.OrderRejectedEventType:  domain.StatusRejected,
	contracts.OrderPickedUpEventType:  domain.StatusPickedUp,
	contracts.OrderDeliveredEventType: domain.StatusDelivered,
}

// Ingestor applies one delivered event to the order history.
// Re-delivering an event has no further effect and reports OutcomeDuplicate.
type Ingestor struct {
	addOrder     *commands.AddOrderHandler
	cancelOrder  *commands.CancelOrderHandler
	changeStatus *commands.ChangeStatusHandler
	reviseOrder  *commands.ReviseOrderHandler
	tracer       trace.Tracer
	logger       *slog.Logger
}

func NewIngestor(
	addOrder *commands.AddOrderHandler,
	cancelOrder *commands.CancelOrderHandler,
	changeStatus *commands.ChangeStatusHandler,
	reviseOrder *commands.ReviseOrderHandler,
	logger *slog.Logger,
) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		addOrder:     addOrder,
		cancelOrder:  cancelOrder,
		changeStatus: changeStatus,
		reviseOrder:  reviseOrder,
		tracer:       otel.Tracer(tracerName),
		logger:       logger,
	}
}

// Handle dispatches the envelope on its event type. Unknown event types are
// ignored and undecodable payloads are dropped; both are reported as outcomes.
// The returned error is non-nil only when the store could not be reached, in
// which case the caller owns redelivery.
func (i *Ingestor) Handle(ctx context.Context, env events.Envelope) (domain.Outcome, error) {
	ctx, span := i.tracer.Start(ctx, "orderhistory.ingest",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.type", env.EventType.String()),
			attribute.String("event.aggregate_type", env.AggregateType),
			attribute.String("event.aggregate_id", env.AggregateID),
			attribute.String("event.id", env.EventID),
		),
	)
	defer span.End()

	outcome, err := i.dispatch(ctx, env)
	switch {
	case errors.Is(err, domain.ErrMalformedEvent):
		i.logger.Warn("dropping malformed event",
			slog.String("event_type", env.EventType.String()),
			slog.String("aggregate_id", env.AggregateID),
			slog.String("event_id", env.EventID),
			slog.Any("error", err),
		)
		outcome, err = domain.OutcomeMalformed, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingestion failed")
		return "", err
	}

	span.SetAttributes(attribute.String("orderhistory.outcome", outcome.String()))
	return outcome, nil
}

func (i *Ingestor) dispatch(ctx context.Context, env events.Envelope) (domain.Outcome, error) {
	source := sourceOf(env)

	switch env.EventType {
	case contracts.OrderCreatedEventType:
		var payload contracts.OrderCreatedEvent
		if err := env.DecodePayload(&payload); err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrMalformedEvent, err)
		}
		cmd := commands.AddOrderCommand{
			OrderID:        targetOrderID(env, payload.OrderID),
			ConsumerID:     payload.ConsumerID,
			CreationDate:   payload.CreatedAt,
			RestaurantID:   payload.RestaurantID,
			RestaurantName: payload.RestaurantName,
			LineItems:      make([]commands.LineItemInput, 0, len(payload.LineItems)),
			Source:         source,
		}
		for _, item := range payload.LineItems {
			cmd.LineItems = append(cmd.LineItems, commands.LineItemInput{
				MenuItemID: item.MenuItemID,
				Name:       item.Name,
				Price:      item.Price,
				Currency:   item.Currency,
				Quantity:   item.Quantity,
			})
		}
		return malformedOnInvalid(i.addOrder.Handle(ctx, cmd))

	case contracts.OrderCancelledEventType:
		var payload contracts.OrderStatusEvent
		if err := decodeOptional(env, &payload); err != nil {
			return "", err
		}
		return malformedOnInvalid(i.cancelOrder.Handle(ctx, commands.CancelOrderCommand{
			OrderID: targetOrderID(env, payload.OrderID),
			Source:  source,
		}))

	case contracts.OrderRevisedEventType:
		var payload contracts.OrderRevisedEvent
		if err := env.DecodePayload(&payload); err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrMalformedEvent, err)
		}
		revisions := make([]domain.LineItemRevision, 0, len(payload.RevisedLineItems))
		for _, rev := range payload.RevisedLineItems {
			revisions = append(revisions, domain.LineItemRevision{MenuItemID: rev.MenuItemID, Quantity: rev.Quantity})
		}
		return malformedOnInvalid(i.reviseOrder.Handle(ctx, commands.ReviseOrderCommand{
			OrderID:   targetOrderID(env, payload.OrderID),
			Revisions: revisions,
			Source:    source,
		}))
	}

	if status, ok := statusEvents[env.EventType]; ok {
		var payload contracts.OrderStatusEvent
		if err := decodeOptional(env, &payload); err != nil {
			return "", err
		}
		return malformedOnInvalid(i.changeStatus.Handle(ctx, commands.ChangeStatusCommand{
			OrderID: targetOrderID(env, payload.OrderID),
			Status:  status.String(),
			Source:  source,
		}))
	}

	i.logger.Debug("ignoring unknown event type", slog.String("event_type", env.EventType.String()))
	return domain.OutcomeIgnored, nil
}

// sourceOf returns nil when the envelope cannot be deduplicated.
func sourceOf(env events.Envelope) *domain.SourceEvent {
	if !env.HasSource() {
		return nil
	}
	source, err := domain.NewSourceEvent(env.AggregateType, env.AggregateID, env.EventID)
	if err != nil {
		return nil
	}
	return &source
}

// targetOrderID prefers the order ID from the payload, because events from
// other aggregates (e.g. deliveries) reference the order they concern.
func targetOrderID(env events.Envelope, payloadOrderID string) string {
	if id := strings.TrimSpace(payloadOrderID); id != "" {
		return id
	}
	if env.AggregateType == contracts.OrderAggregateType {
		return env.AggregateID
	}
	return ""
}

// decodeOptional decodes status payloads, which may be empty for events of
// the Order aggregate itself.
func decodeOptional(env events.Envelope, dst any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	if err := env.DecodePayload(dst); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedEvent, err)
	}
	return nil
}

// malformedOnInvalid classifies validation failures of the decoded payload
// as malformed events. Storage failures and cancellation pass through.
func malformedOnInvalid(outcome domain.Outcome, err error) (domain.Outcome, error) {
	switch {
	case err == nil,
		errors.Is(err, domain.ErrStorageUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return outcome, err
	default:
		return "", fmt.Errorf("%w: %w", domain.ErrMalformedEvent, err)
	}
}
