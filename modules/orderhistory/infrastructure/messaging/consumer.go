// Package messaging feeds broker deliveries to the order history ingestor.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
	"github.com/rai/orderhistory-go/modules/shared/events"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the channel.
var ErrDeliveriesClosed = errors.New("amqp deliveries channel closed")

// DeferralsHeader counts how often a delivery was sent back to the queue
// because its order had not been projected yet.
const DeferralsHeader = "x-orderhistory-deferrals"

// EnvelopeHandler applies one inbound envelope.
type EnvelopeHandler interface {
	Handle(ctx context.Context, env events.Envelope) (domain.Outcome, error)
}

// Publisher sends a message to the tail of the consumed queue.
type Publisher interface {
	Publish(ctx context.Context, msg amqp.Publishing) error
}

// RetryPolicy bounds how the consumer hands deliveries back to the broker.
type RetryPolicy struct {
	// InitialInterval is the pause before the first retry. Consecutive
	// retries double it up to MaxInterval.
	InitialInterval time.Duration `env:"INITIAL_INTERVAL" envDefault:"500ms"`
	MaxInterval     time.Duration `env:"MAX_INTERVAL" envDefault:"30s"`
	// Jitter randomizes each pause by up to this fraction.
	Jitter float64 `env:"JITTER" envDefault:"0.5"`
	// MaxDeferrals bounds how often an event for an unknown order goes back
	// to the queue before it is dead-lettered.
	MaxDeferrals int64 `env:"MAX_DEFERRALS" envDefault:"10"`
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.Reset()
	return b
}

// Consumer acknowledges a delivery once its envelope has been handled.
//
// Malformed messages are rejected without requeue so the broker can
// dead-letter them. Storage failures are requeued after a pause that grows
// while failures persist. Events whose order is not known yet went ahead of
// its creation; they are republished behind it with a deferral count and
// dead-lettered once the count reaches RetryPolicy.MaxDeferrals.
type Consumer struct {
	handler   EnvelopeHandler
	deferrals Publisher
	retry     RetryPolicy
	backoff   *backoff.ExponentialBackOff
	wait      func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

func NewConsumer(handler EnvelopeHandler, deferrals Publisher, retry RetryPolicy, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		handler:   handler,
		deferrals: deferrals,
		retry:     retry,
		backoff:   retry.newBackOff(),
		wait:      sleep,
		logger:    logger,
	}
}

// Run handles deliveries one at a time until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	logger := c.logger.With(slog.Uint64("delivery_tag", d.DeliveryTag))

	env, err := events.DecodeEnvelope(d.Body)
	if err != nil {
		logger.Warn("rejecting undecodable message", slog.Any("error", err))
		c.settle(logger, d.Nack(false, false))
		return
	}
	logger = logger.With(
		slog.String("event_type", env.EventType.String()),
		slog.String("event_id", env.EventID),
	)

	outcome, err := c.handler.Handle(ctx, env)
	switch {
	case err != nil:
		logger.Error("failed to handle event, requeueing", slog.Any("error", err))
		c.pause(ctx, logger)
		c.settle(logger, d.Nack(false, true))
	case outcome == domain.OutcomeMalformed:
		c.settle(logger, d.Nack(false, false))
	case outcome == domain.OutcomeUnknownAggregate:
		c.deferDelivery(ctx, logger, d)
	default:
		c.backoff.Reset()
		c.settle(logger, d.Ack(false))
	}
}

// deferDelivery sends d to the tail of the queue so that the creation event
// queued behind it is applied first.
func (c *Consumer) deferDelivery(ctx context.Context, logger *slog.Logger, d amqp.Delivery) {
	count := deferralCount(d.Headers)
	if count >= c.retry.MaxDeferrals {
		logger.Warn("order still unknown, dead-lettering event", slog.Int64("deferrals", count))
		c.settle(logger, d.Nack(false, false))
		return
	}

	if !c.pause(ctx, logger) {
		c.settle(logger, d.Nack(false, true))
		return
	}
	if err := c.deferrals.Publish(ctx, republished(d, count+1)); err != nil {
		logger.Error("failed to defer event, requeueing", slog.Any("error", err))
		c.settle(logger, d.Nack(false, true))
		return
	}
	logger.Info("order not known yet, deferred event", slog.Int64("deferrals", count+1))
	c.settle(logger, d.Ack(false))
}

// pause waits for the next backoff interval. It reports false when ctx ended
// first.
func (c *Consumer) pause(ctx context.Context, logger *slog.Logger) bool {
	delay := c.backoff.NextBackOff()
	logger.Debug("pausing before retry", slog.Duration("delay", delay))
	return c.wait(ctx, delay) == nil
}

func (c *Consumer) settle(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("failed to acknowledge delivery", slog.Any("error", err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func deferralCount(headers amqp.Table) int64 {
	switch n := headers[DeferralsHeader].(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	case int8:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func republished(d amqp.Delivery, deferrals int64) amqp.Publishing {
	headers := amqp.Table{}
	maps.Copy(headers, d.Headers)
	headers[DeferralsHeader] = deferrals
	return amqp.Publishing{
		Headers:         headers,
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    d.DeliveryMode,
		Priority:        d.Priority,
		CorrelationId:   d.CorrelationId,
		MessageId:       d.MessageId,
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		AppId:           d.AppId,
		Body:            d.Body,
	}
}

// HandlerFunc adapts a function to EnvelopeHandler.
type HandlerFunc func(ctx context.Context, env events.Envelope) (domain.Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, env events.Envelope) (domain.Outcome, error) {
	return f(ctx, env)
}
