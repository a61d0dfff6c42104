// Package events publishes session lifecycle events to an AMQP exchange
// so downstream consumers (budget sync, audit) can react to commits and
// deletes without polling the backend. The session works fine without a
// broker; callers treat the publisher as optional.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"receiptbox/internal/log"
)

type Client struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	queue    string
	logger   *log.Logger
}

func NewClient(url, exchange, queue string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(log.Config{Component: log.ComponentEvents})
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &Client{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		queue:    queue,
		logger:   logger,
	}
	if err := c.setup(); err != nil {
		c.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return c, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchange, // name
		"direct",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := c.channel.QueueBind(c.queue, c.queue, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// PublishCommitted announces a successful batch commit.
func (c *Client) PublishCommitted(ctx context.Context, batchID string, ids []int64) error {
	return c.publish(ctx, newEvent(KindCommitted, batchID, ids))
}

// PublishDeleted announces a server-side delete.
func (c *Client) PublishDeleted(ctx context.Context, id int64) error {
	return c.publish(ctx, newEvent(KindDeleted, "", []int64{id}))
}

// PublishRestored announces a transaction recreated from a session
// shadow.
func (c *Client) PublishRestored(ctx context.Context, id int64) error {
	return c.publish(ctx, newEvent(KindRestored, "", []int64{id}))
}

func (c *Client) publish(ctx context.Context, event *SessionEvent) error {
	body, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchange, // exchange
		c.queue,    // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	c.logger.DebugContext(ctx, "Published session event",
		log.FieldOperation, event.Kind,
		log.FieldBatchID, event.BatchID,
		log.FieldCount, len(event.TxnIDs))
	return nil
}

func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close events client: %v", errs)
	}
	return nil
}
