// Package queue carries training job messages from submitters to the worker.
package queue

import (
	"context"

	"github.com/pkg/errors"
)

// ErrClosed is returned once a queue handle has been closed.
var ErrClosed = errors.New("queue closed")

// Delivery is one received message awaiting settlement.
type Delivery interface {
	Body() []byte
	Redelivered() bool
	Ack() error
	Nack(requeue bool) error
}

// Publisher enqueues messages durably.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
	// Depth returns the number of messages waiting in the queue.
	Depth(ctx context.Context) (int, error)
}

// Consumer receives messages one at a time. The returned channel is closed
// when ctx is done or the broker connection ends.
type Consumer interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
}

// Queue is a private broker handle.
type Queue interface {
	Publisher
	Consumer
	Close() error
}
