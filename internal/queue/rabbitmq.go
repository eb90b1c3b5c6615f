package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/visionml/trainer/pkg/log"
)

// RabbitMQ is a Queue backed by a single durable RabbitMQ queue. Each value
// owns its own connection and channel.
type RabbitMQ struct {
	name string
	conn *amqp.Connection
	ch   *amqp.Channel

	mu     sync.Mutex
	closed bool
}

// DialRabbitMQ connects to url and declares the durable queue name.
func DialRabbitMQ(url, name string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open rabbitmq channel")
	}

	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "declare queue %s", name)
	}

	// publisher confirms: Publish returns only once the broker owns the message
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "enable publisher confirms")
	}

	return &RabbitMQ{name: name, conn: conn, ch: ch}, nil
}

// Publish sends body as a persistent message and waits for the broker's
// confirmation.
func (q *RabbitMQ) Publish(ctx context.Context, body []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	confirm, err := q.ch.PublishWithDeferredConfirmWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    uuid.NewString(),
		Body:         body,
	})
	q.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "publish to %s", q.name)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrap(err, "await publish confirmation")
	}
	if !acked {
		return errors.Errorf("broker rejected message for %s", q.name)
	}

	return nil
}

// Depth reports the number of ready messages in the queue.
func (q *RabbitMQ) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}

	state, err := q.ch.QueueDeclarePassive(q.name, true, false, false, false, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "inspect queue %s", q.name)
	}
	return state.Messages, nil
}

// Consume starts a manual-ack consumer with a prefetch of one.
func (q *RabbitMQ) Consume(ctx context.Context) (<-chan Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	if err := q.ch.Qos(1, 0, false); err != nil {
		return nil, errors.Wrap(err, "set prefetch")
	}

	tag := "trainer-" + uuid.NewString()
	msgs, err := q.ch.ConsumeWithContext(ctx, q.name, tag, false, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "consume %s", q.name)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					log.Warn("rabbitmq delivery channel closed", "queue", q.name)
					return
				}
				select {
				case out <- &rabbitDelivery{d: d}:
				case <-ctx.Done():
					// unsettled; the broker redelivers once the channel closes
					return
				}
			}
		}
	}()

	return out, nil
}

// Close tears down the channel and connection.
func (q *RabbitMQ) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	if err := q.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		log.Warn("close rabbitmq channel", "error", err)
	}
	return q.conn.Close()
}

type rabbitDelivery struct {
	d amqp.Delivery
}

func (r *rabbitDelivery) Body() []byte      { return r.d.Body }
func (r *rabbitDelivery) Redelivered() bool { return r.d.Redelivered }
func (r *rabbitDelivery) Ack() error        { return r.d.Ack(false) }

func (r *rabbitDelivery) Nack(requeue bool) error {
	return r.d.Nack(false, requeue)
}
