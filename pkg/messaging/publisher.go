package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fisioflow/fisioflow-backend/pkg/logger"
)

// Publisher emits events on one topic exchange. The event type doubles as
// the routing key, so consumers can bind with patterns like "user.#".
type Publisher struct {
	channel  *amqp.Channel
	exchange string
	source   string
	log      *logger.Logger
}

// NewPublisher declares the exchange and returns a publisher writing to
// it. source identifies the emitting service in the event envelope.
func NewPublisher(rmq *RabbitMQ, exchange, source string, log *logger.Logger) (*Publisher, error) {
	if err := rmq.DeclareExchange(exchange); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{
		channel:  rmq.Channel(),
		exchange: exchange,
		source:   source,
		log:      log,
	}, nil
}

// Publish wraps data in an event envelope and sends it as a persistent
// message, propagating any correlation ID found on ctx.
func (p *Publisher) Publish(ctx context.Context, eventType string, data interface{}) error {
	correlationID := correlationIDFrom(ctx)

	event, err := NewEvent(eventType, p.source, correlationID, data)
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		Body:          body,
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, eventType, false, false, pub); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.log.Debug().
		Str("event_type", eventType).
		Str("event_id", event.ID).
		Str("correlation_id", correlationID).
		Msg("event published")
	return nil
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID stamps ctx with the ID that ties an event chain
// together across services.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func correlationIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
