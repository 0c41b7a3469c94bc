// Package amqp publishes job failures to a RabbitMQ exchange so other
// systems can consume them.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rishansujesh/ads-warehouse/internal/notify"
)

const DefaultExchange = "etl.alerts"

// Publisher is the part of *amqp.Channel the sink uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Sink struct {
	conn     *amqp.Connection
	pub      Publisher
	exchange string
}

var _ notify.Sink = (*Sink)(nil)

// Dial connects and declares a durable topic exchange.
func Dial(url, exchange string) (*Sink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Sink{conn: conn, pub: ch, exchange: exchange}, nil
}

func NewSink(pub Publisher, exchange string) *Sink {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Sink{pub: pub, exchange: exchange}
}

// RoutingKey is job.failed.<source>.
func RoutingKey(f notify.JobFailure) string {
	return "job.failed." + f.Source
}

func (s *Sink) SendJobFailure(ctx context.Context, f notify.JobFailure) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode failure: %w", err)
	}
	return s.pub.PublishWithContext(ctx, s.exchange, RoutingKey(f), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    f.RunID,
		Timestamp:    time.Now().UTC(),
		Type:         "job_failure",
		Body:         body,
	})
}

func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
