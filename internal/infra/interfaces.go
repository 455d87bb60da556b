package infra

import (
	"context"

	"storefront-orders/internal/infra/kafka"
	"storefront-orders/internal/infra/mailer"
	"storefront-orders/internal/infra/rabbitmq"
)

type PublisherInterface interface {
	Publish(ctx context.Context, routingKey string, data any) error
}

// NotifierInterface delivers an HTML message to one recipient.
type NotifierInterface interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// NopPublisher drops events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

var (
	_ PublisherInterface = (*rabbitmq.Publisher)(nil)
	_ PublisherInterface = (*kafka.Publisher)(nil)
	_ PublisherInterface = NopPublisher{}
	_ NotifierInterface  = (*mailer.SMTPSender)(nil)
)
