package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// Envelope is the message body consumers receive; Pattern repeats the
// routing key so consumers bound with wildcards can dispatch on it.
type Envelope struct {
	Pattern string `json:"pattern"`
	Data    any    `json:"data"`
	ID      string `json:"id,omitempty"`
}

// NewPublisher dials the broker and makes sure the durable topic exchange
// order events are routed through exists.
func NewPublisher(amqpURL, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	p := &Publisher{conn: conn, exchange: exchange}

	if p.channel, err = conn.Channel(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := p.channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return p, nil
}

func NewEnvelope(pattern string, data any) Envelope {
	return Envelope{Pattern: pattern, Data: data, ID: uuid.NewString()}
}

func (e Envelope) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", e.Pattern, err)
	}
	return body, nil
}

// publishing survives a broker restart: messages are persistent and the
// exchange is durable.
func publishing(id string, body []byte, at time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    at,
		Body:         body,
	}
}

func (p *Publisher) Publish(ctx context.Context, pattern string, data any) error {
	env := NewEnvelope(pattern, data)
	body, err := env.Marshal()
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.Publish(p.exchange, pattern, false, false, publishing(env.ID, body, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", pattern, p.exchange, err)
	}

	slog.DebugContext(ctx, "event published", "exchange", p.exchange, "pattern", pattern, "message_id", env.ID)
	return nil
}

func (p *Publisher) Close() error {
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
