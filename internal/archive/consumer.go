// Package archive consumes the raw event archive queue.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/facility-monitor/pkg/event"
	"procodus.dev/facility-monitor/pkg/eventlog"
	"procodus.dev/facility-monitor/pkg/metrics"
	"procodus.dev/facility-monitor/pkg/mq"
)

const readyPollInterval = 200 * time.Millisecond

// Consumer reads archived events, logs them and optionally replays them
// into a Log.
type Consumer struct {
	logger  *slog.Logger
	client  mq.ClientInterface
	sink    eventlog.Log
	queue   string
	timeout time.Duration
	metrics *metrics.ArchiveMetrics
	started atomic.Bool
	done    chan struct{}
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger *slog.Logger
	Client mq.ClientInterface
	// Sink, when set, receives every decoded event.
	Sink eventlog.Log
	// Queue labels metrics.
	Queue string
	// ReadyTimeout bounds the wait for the broker connection (default 30s).
	ReadyTimeout time.Duration
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Client == nil {
		return nil, errors.New("queue client cannot be nil")
	}

	queue := cfg.Queue
	if queue == "" {
		queue = mq.DefaultQueue
	}

	timeout := cfg.ReadyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Consumer{
		logger:  cfg.Logger,
		client:  cfg.Client,
		sink:    cfg.Sink,
		queue:   queue,
		timeout: timeout,
		done:    make(chan struct{}),
	}, nil
}

// SetMetrics enables consumption metrics.
func (c *Consumer) SetMetrics(m *metrics.ArchiveMetrics) {
	c.metrics = m
}

// Start begins consuming. It waits for the broker connection until ctx
// is done.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("consumer already started")
	}
	c.logger.Info("starting archive consumer", "queue", c.queue)

	deliveries, err := c.consume(ctx)
	if err != nil {
		close(c.done)
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("archive consumer started, waiting for messages")
	go c.processMessages(ctx, deliveries)
	return nil
}

func (c *Consumer) consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		deliveries, err := c.client.Consume()
		if err == nil {
			return deliveries, nil
		}
		if !errors.Is(err, mq.ErrNotConnected) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				return
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	rec, err := eventlog.Decode(delivery.Body)
	if err != nil {
		c.logger.Error("failed to decode archived event", "error", err)
		c.failed("decode")
		// Undecodable records are acked so they are not redelivered forever.
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	c.logger.Info("archived event",
		"room", rec.Room,
		"received_at", rec.ReceivedAt,
		"type", rec.Fields[event.FieldType],
		"sensor_id", event.ResolveSensorID(rec.Fields),
	)

	if c.sink != nil {
		if err := c.replay(ctx, rec); err != nil {
			c.logger.Error("failed to store archived event", "room", rec.Room, "error", err)
			c.failed("store")
			if nackErr := delivery.Nack(false, true); nackErr != nil {
				c.logger.Error("failed to nack message", "error", nackErr)
			}
			return
		}
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.MessagesConsumed.WithLabelValues(c.queue).Inc()
	}
}

func (c *Consumer) replay(ctx context.Context, rec eventlog.Record) error {
	raw, err := json.Marshal(rec.Fields)
	if err != nil {
		return err
	}
	env, err := event.Parse(rec.Room, raw, rec.ReceivedAt)
	if err != nil {
		return err
	}
	return c.sink.Append(ctx, env)
}

func (c *Consumer) failed(reason string) {
	if c.metrics != nil {
		c.metrics.ConsumptionFailures.WithLabelValues(c.queue, reason).Inc()
	}
}

// Stop closes the queue client and waits for processing to finish.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping archive consumer")

	if err := c.client.Close(); err != nil && !errors.Is(err, mq.ErrAlreadyClosed) {
		return fmt.Errorf("failed to close mq client: %w", err)
	}
	if c.started.Load() {
		<-c.done
	}

	c.logger.Info("archive consumer stopped")
	return nil
}
