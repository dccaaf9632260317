package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fisioflow/fisioflow-backend/pkg/logger"
)

// A message is requeued this many times before it is parked on the DLQ.
const maxDeliveryRetries = 3

// MessageHandler processes one decoded event. A non-nil error triggers a
// redelivery, and eventually the DLQ.
type MessageHandler func(ctx context.Context, event *Event) error

// Consumer reads events from a single queue and dispatches them to
// handlers keyed by event type.
type Consumer struct {
	rmq      *RabbitMQ
	queue    string
	handlers map[string]MessageHandler
	log      *logger.Logger
}

// NewConsumer declares the queue and returns a consumer bound to it.
func NewConsumer(rmq *RabbitMQ, queue string, log *logger.Logger) (*Consumer, error) {
	if _, err := rmq.DeclareQueue(queue); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &Consumer{
		rmq:      rmq,
		queue:    queue,
		handlers: make(map[string]MessageHandler),
		log:      log,
	}, nil
}

// Subscribe binds the queue to an exchange under a routing key pattern,
// declaring the exchange if the producer has not yet.
func (c *Consumer) Subscribe(exchange, pattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := c.rmq.BindQueue(c.queue, exchange, pattern); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", c.queue, exchange, err)
	}

	c.log.Info().
		Str("queue", c.queue).
		Str("exchange", exchange).
		Str("routing_key", pattern).
		Msg("subscribed to exchange")
	return nil
}

// RegisterHandler routes events of the given type to handler. Not safe to
// call after Start.
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start begins consuming in a background goroutine. A closed delivery
// channel triggers a broker reconnect and a fresh consume; the goroutine
// exits for good when ctx is cancelled or the reconnect gives up.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.rmq.Channel().Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume from %s: %w", c.queue, err)
	}

	c.log.Info().Str("queue", c.queue).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.log.Info().Str("queue", c.queue).Msg("consumer stopped")
				return
			case msg, ok := <-deliveries:
				if !ok {
					c.recover(ctx)
					return
				}
				c.dispatch(ctx, msg)
			}
		}
	}()
	return nil
}

// recover re-dials the broker and resumes consumption. The queue is
// durable, so only the channel needs re-establishing.
func (c *Consumer) recover(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	c.log.Warn().Str("queue", c.queue).Msg("delivery channel closed, reconnecting")
	if err := c.rmq.Reconnect(ctx); err != nil {
		c.log.Error().Err(err).Str("queue", c.queue).Msg("reconnect failed, consumer exiting")
		return
	}
	if err := c.Start(ctx); err != nil {
		c.log.Error().Err(err).Str("queue", c.queue).Msg("failed to resume consuming after reconnect")
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Error().Err(err).Msg("malformed event body")
		// Malformed payloads will never decode; park them immediately.
		msg.Reject(false)
		return
	}

	handler, ok := c.handlers[event.Type]
	if !ok {
		// The binding pattern is broader than the handler set, so
		// unhandled types are expected.
		c.log.Debug().Str("event_type", event.Type).Msg("no handler for event type")
		msg.Ack(false)
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	c.log.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).
		Msg("processing event")

	if err := handler(ctx, &event); err != nil {
		c.log.Error().
			Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Msg("event handler failed")

		if deliveryCount(msg) >= maxDeliveryRetries {
			c.log.Warn().
				Str("event_id", event.ID).
				Msg("retries exhausted, parking on dead letter queue")
			msg.Reject(false)
			return
		}
		msg.Nack(false, true)
		return
	}

	msg.Ack(false)
}

// deliveryCount reads the broker-maintained x-death header to count prior
// dead-letter cycles for this message.
func deliveryCount(msg amqp.Delivery) int {
	deaths, ok := msg.Headers["x-death"].([]interface{})
	if !ok {
		return 0
	}
	for _, d := range deaths {
		if entry, ok := d.(amqp.Table); ok {
			if n, ok := entry["count"].(int64); ok {
				return int(n)
			}
		}
	}
	return 0
}
