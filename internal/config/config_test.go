package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(envOf(map[string]string{"JWT_SECRET": "s3cret"}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, BrokerRabbitMQ, cfg.EventBroker)
	assert.Equal(t, "order.exchange", cfg.OrderExchange)
	assert.Equal(t, 3, cfg.SMTP.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.SMTP.Backoff)
	assert.Equal(t, 10*time.Second, cfg.OrderCacheTTL)
	assert.False(t, cfg.MailEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(envOf(map[string]string{
		"JWT_SECRET":      "s3cret",
		"PORT":            "9090",
		"REDIS_HOST":      "cache",
		"EVENT_BROKER":    "Kafka",
		"KAFKA_BROKERS":   "k1:9092,k2:9092",
		"SMTP_HOST":       "smtp.example.com",
		"SMTP_PORT":       "465",
		"SMTP_USER":       "shop@example.com",
		"ORDER_CACHE_TTL": "1m",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, BrokerKafka, cfg.EventBroker)
	assert.Equal(t, 465, cfg.SMTP.Port)
	assert.Equal(t, "shop@example.com", cfg.SMTP.From)
	assert.Equal(t, time.Minute, cfg.OrderCacheTTL)
	assert.True(t, cfg.MailEnabled())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{}, "JWT_SECRET"},
		{"unknown broker", map[string]string{"JWT_SECRET": "x", "EVENT_BROKER": "nats"}, "EVENT_BROKER"},
		{"kafka without brokers", map[string]string{"JWT_SECRET": "x", "EVENT_BROKER": "kafka"}, "KAFKA_BROKERS"},
		{"bad port", map[string]string{"JWT_SECRET": "x", "SMTP_PORT": "smtp"}, "SMTP_PORT"},
		{"zero attempts", map[string]string{"JWT_SECRET": "x", "MAIL_MAX_ATTEMPTS": "0"}, "MAIL_MAX_ATTEMPTS"},
		{"bad ttl", map[string]string{"JWT_SECRET": "x", "ORDER_CACHE_TTL": "soon"}, "ORDER_CACHE_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(envOf(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
