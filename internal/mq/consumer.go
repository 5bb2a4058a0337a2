package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Handler processes one delivery. Returning an error requeues the message.
type Handler func(ctx context.Context, body []byte) error

// Consumer consumes messages from a queue and dispatches them to a Handler.
// It survives broker reconnects by re-establishing the consume channel.
type Consumer struct {
	conn     *Connection
	queue    string
	handler  Handler
	prefetch int
}

// NewConsumer creates a consumer. Prefetch bounds how many unacked jobs the
// broker hands this worker at once and therefore caps handler concurrency.
func NewConsumer(conn *Connection, queue string, prefetch int, handler Handler) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{conn: conn, queue: queue, handler: handler, prefetch: prefetch}
}

// Run consumes until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := c.setup()
		if err != nil {
			log.Error().Err(err).Str("queue", c.queue).Msg("Failed to start consuming, waiting for reconnect")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				continue
			}
		}

		log.Info().Str("queue", c.queue).Int("prefetch", c.prefetch).Msg("Consuming jobs")

		if err := c.process(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Str("queue", c.queue).Msg("Delivery channel closed, waiting for reconnect")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
			}
		}
	}
}

func (c *Consumer) setup() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

// process dispatches each delivery on its own goroutine so jobs run in
// parallel; the handler's own concurrency gate bounds the real work and the
// broker prefetch caps how many deliveries are in flight at once. In-flight
// jobs are drained before process returns.
func (c *Consumer) process(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				if err := c.handler(ctx, d.Body); err != nil {
					log.Error().Err(err).Str("queue", c.queue).Msg("Job handler failed, requeueing")
					_ = d.Nack(false, true)
					return
				}
				_ = d.Ack(false)
			}(raw)
		}
	}
}
