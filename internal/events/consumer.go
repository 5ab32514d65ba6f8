package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/server"
	"github.com/npezzotti/go-crudder/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const prefetchCount = 16

// ErrDeliveriesClosed reports that the broker ended the consumer's delivery
// stream while the consumer was still running.
var ErrDeliveriesClosed = errors.New("amqp delivery channel closed")

type Publisher interface {
	Publish(ctx context.Context, kind, senderId, recipientId, postId string) (types.Notification, error)
}

// SocialEvent is the queued form of a follow, like, comment, reply or
// mention performed elsewhere in the platform.
type SocialEvent struct {
	Kind        string `json:"kind"`
	SenderId    string `json:"sender_id"`
	RecipientId string `json:"recipient_id"`
	PostId      string `json:"post_id,omitempty"`
}

// Consumer reads social events from an AMQP queue and hands them to the
// publisher. Deliveries are acked after the notification is stored.
type Consumer struct {
	log     *zap.SugaredLogger
	url     string
	queue   string
	pub     Publisher
	timeout time.Duration

	conn    *amqp.Connection
	ch      *amqp.Channel
	done    chan struct{}
	errCh   chan error
	closing atomic.Bool
}

func NewConsumer(logger *zap.SugaredLogger, url, queue string, pub Publisher, timeout time.Duration) *Consumer {
	return &Consumer{
		log:     logger,
		url:     url,
		queue:   queue,
		pub:     pub,
		timeout: timeout,
		done:    make(chan struct{}),
		errCh:   make(chan error, 1),
	}
}

// Err delivers ErrDeliveriesClosed if intake stops without Close being
// called, so the process can exit instead of running without intake.
func (c *Consumer) Err() <-chan error {
	return c.errCh
}

func (c *Consumer) Start(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare queue %q: %w", c.queue, err)
	}

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("consume %q: %w", c.queue, err)
	}

	c.conn = conn
	c.ch = ch
	c.log.Infow("consuming social events", "queue", c.queue)

	go c.consumeLoop(ctx, deliveries)
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				if c.closing.Load() {
					return
				}
				c.log.Errorw("social event intake stopped", "queue", c.queue, "error", ErrDeliveriesClosed)
				c.errCh <- ErrDeliveriesClosed
				return
			}
			c.handle(ctx, d)
		}
	}
}

// handle acks stored events and drops invalid ones. A storage failure is
// requeued once; a second failure drops the delivery.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var ev SocialEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.log.Warnw("dropping undecodable social event", "error", err)
		d.Nack(false, false)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.pub.Publish(ctx, ev.Kind, ev.SenderId, ev.RecipientId, ev.PostId)
	switch {
	case err == nil:
		d.Ack(false)
	case errors.Is(err, server.ErrValidation), errors.Is(err, database.ErrNotFound):
		c.log.Warnw("dropping invalid social event", "kind", ev.Kind, "error", err)
		d.Nack(false, false)
	case d.Redelivered:
		c.log.Errorw("dropping social event after retry", "kind", ev.Kind, "error", err)
		d.Nack(false, false)
	default:
		c.log.Warnw("requeueing social event", "kind", ev.Kind, "error", err)
		d.Nack(false, true)
	}
}

// Close stops consuming and waits for the in-flight delivery to finish.
func (c *Consumer) Close() error {
	if c.conn == nil {
		return nil
	}
	c.closing.Store(true)

	var errs []error
	if err := c.ch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	<-c.done

	return errors.Join(errs...)
}
