package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const exchangeName = "otc.settlement.events"

// AMQPPublisher publishes domain events to a RabbitMQ topic exchange, the
// event kind as routing key. Publish failures are logged, never surfaced:
// settlement progress must not depend on the message bus.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: channel}, nil
}

func (p *AMQPPublisher) Publish(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("kind", string(event.Kind)).Msg("failed to marshal domain event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		exchangeName,
		string(event.Kind), // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   event.OccurredAt,
			Body:        body,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("kind", string(event.Kind)).Msg("failed to publish domain event")
	}
}

func (p *AMQPPublisher) Close() {
	if err := p.channel.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close AMQP channel")
	}
	if err := p.conn.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close AMQP connection")
	}
}
