package notification

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange chain and card events publish to.
const DefaultExchange = "happy_paisa.events"

type event struct {
	Kind        string    `json:"kind"`
	Destination string    `json:"destination"`
	Body        string    `json:"body"`
	EmittedAt   time.Time `json:"emitted_at"`
}

// AMQPNotifier publishes notifications as JSON events on a RabbitMQ topic
// exchange, routed by message kind.
type AMQPNotifier struct {
	channel  *amqp.Channel
	exchange string
}

// NewAMQPNotifier opens a channel on the connection and declares the topic
// exchange.
func NewAMQPNotifier(conn *amqp.Connection, exchange string) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	channel, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		return nil, err
	}
	return &AMQPNotifier{channel: channel, exchange: exchange}, nil
}

// Send publishes the message with its kind as the routing key.
func (n *AMQPNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(event{
		Kind:        message.Kind,
		Destination: message.Destination,
		Body:        message.Body,
		EmittedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return n.channel.PublishWithContext(ctx, n.exchange, message.Kind, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

// Close releases the channel. The owning connection is closed by the caller.
func (n *AMQPNotifier) Close() error {
	return n.channel.Close()
}
