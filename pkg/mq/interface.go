package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface is the archive queue as seen by producers and consumers.
type ClientInterface interface {
	// Push publishes data and blocks until the broker confirms it.
	Push(ctx context.Context, data []byte) error
	// UnsafePush publishes data without waiting for a confirmation.
	UnsafePush(ctx context.Context, data []byte) error
	// Consume streams queue items. Each must be acked or nacked.
	Consume() (<-chan amqp.Delivery, error)
	// Close shuts the client down.
	Close() error
}

var _ ClientInterface = (*Client)(nil)
