package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fisioflow/fisioflow-backend/pkg/config"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
)

// Dead-lettered messages from every service queue land on this exchange.
const deadLetterExchange = "dlx.events"

var errPermanentlyClosed = errors.New("messaging: connection permanently closed")

// RabbitMQ wraps a broker connection and its single channel. Declarations
// and consumption go through Channel; Close makes the wrapper unusable.
type RabbitMQ struct {
	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     *config.RabbitMQConfig
	log     *logger.Logger
	closed  bool
}

// New dials the broker and opens a channel with the configured prefetch.
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{cfg: cfg, log: log}
	if err := r.dial(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) dial() error {
	conn, err := amqp.Dial(r.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(r.cfg.PrefetchCount, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	r.conn = conn
	r.channel = ch
	r.log.Info().Msg("connected to rabbitmq")
	return nil
}

// Channel returns the active channel.
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Close tears down the channel and connection. Reconnect refuses to run
// after Close.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.log.Warn().Err(err).Msg("closing channel")
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}

	r.log.Info().Msg("rabbitmq connection closed")
	return nil
}

// Health reports broker connectivity for the /health endpoint.
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return map[string]string{"status": "down", "error": "connection closed"}
	}
	return map[string]string{"status": "up"}
}

// DeclareExchange declares a durable topic exchange.
func (r *RabbitMQ) DeclareExchange(name string) error {
	return r.Channel().ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

// DeclareQueue declares a durable queue that dead-letters rejected
// messages to the shared DLX.
func (r *RabbitMQ) DeclareQueue(name string) (amqp.Queue, error) {
	args := amqp.Table{"x-dead-letter-exchange": deadLetterExchange}
	return r.Channel().QueueDeclare(name, true, false, false, false, args)
}

// DeclareDeadLetterQueue sets up the DLX and a per-service parking queue
// bound to every routing key.
func (r *RabbitMQ) DeclareDeadLetterQueue(serviceName string) error {
	ch := r.Channel()

	if err := ch.ExchangeDeclare(deadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}

	dlq := "dlq." + serviceName
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", dlq, err)
	}

	if err := ch.QueueBind(dlq, "#", deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", dlq, err)
	}
	return nil
}

// BindQueue binds a queue to an exchange under a routing key pattern.
func (r *RabbitMQ) BindQueue(queue, exchange, routingKey string) error {
	return r.Channel().QueueBind(queue, routingKey, exchange, false, nil)
}

// Reconnect re-dials the broker, backing off between attempts. It stops
// early when ctx is cancelled.
func (r *RabbitMQ) Reconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errPermanentlyClosed
	}

	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.log.Info().Int("attempt", attempt).Msg("reconnecting to rabbitmq")
		if err := r.dial(); err != nil {
			r.log.Warn().Err(err).Msg("reconnect attempt failed")
			time.Sleep(r.cfg.ReconnectDelay)
			continue
		}
		return nil
	}

	return fmt.Errorf("reconnect failed after %d attempts", r.cfg.MaxRetries)
}
