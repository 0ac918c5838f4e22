/**
 * @description
 * This file provides the consuming side of the RabbitMQ integration: a
 * durable queue bound to the dispatch exchange with per-routing-key
 * handlers. Delivery handling is tuned for dispatch traffic: a prefetch cap
 * keeps a burst of booking.created events from flooding the process, a
 * transient handler failure re-queues the delivery once, and a delivery that
 * fails again after redelivery is dropped so a poison payload cannot loop
 * through the queue forever.
 *
 * @dependencies
 * - context, fmt, log, net/url, strings, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery body. Returning false re-queues the
// delivery; a redelivered message that fails again is dropped.
type Handler func(body []byte) bool

// prefetchCount bounds unacknowledged deliveries per consumer so a booking
// burst is worked through at a steady pace instead of all at once.
const prefetchCount = 16

type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	// done is closed when the delivery loop exits, so Close can wait for
	// in-flight handlers to finish.
	done chan struct{}
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares the exchange and a durable queue, binds the
// given routing keys, and dispatches deliveries to their handlers until ctx
// is cancelled or the channel closes.
func (c *Consumer) ConsumeWithBindings(ctx context.Context, exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]Handler)
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "dispatch-service", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.done = make(chan struct{})
	go c.run(ctx, msgs, handlers)
	return nil
}

func (c *Consumer) run(ctx context.Context, msgs <-chan amqp.Delivery, handlers map[string]Handler) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			log.Printf("level=info component=rabbitmq_consumer msg=\"context cancelled; stopping delivery loop\"")
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(d, handlers)
		}
	}
}

func (c *Consumer) handle(d amqp.Delivery, handlers map[string]Handler) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		log.Printf("level=warn component=rabbitmq_consumer routing_key=%s msg=\"no handler; dropping\"", d.RoutingKey)
		d.Ack(false)
		return
	}
	if handler(d.Body) {
		d.Ack(false)
		return
	}
	if d.Redelivered {
		// Second failure for the same delivery. Drop it rather than cycle
		// a poison payload through the queue.
		log.Printf("level=error component=rabbitmq_consumer routing_key=%s msg=\"handler failed after redelivery; dropping\"", d.RoutingKey)
		d.Ack(false)
		return
	}
	log.Printf("level=warn component=rabbitmq_consumer routing_key=%s msg=\"handler failed; re-queuing once\"", d.RoutingKey)
	d.Nack(false, true)
}

// Close shuts the channel and connection, then waits for the delivery loop
// to drain any in-flight handler.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if c.done != nil {
		<-c.done
	}
}
