package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes order events to one topic, keyed by routing key so every
// event type keeps its own ordering within a partition.
type Publisher struct {
	writer *kafka.Writer
}

func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewPublisher(brokersCSV, topic string) (*Publisher, error) {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}, nil
}

type message struct {
	Pattern string `json:"pattern"`
	Data    any    `json:"data"`
}

func (p *Publisher) Publish(ctx context.Context, pattern string, data any) error {
	body, err := json.Marshal(message{Pattern: pattern, Data: data})
	if err != nil {
		return fmt.Errorf("kafka: marshal %s: %w", pattern, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(pattern),
		Value: body,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("kafka: write %s: %w", pattern, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
