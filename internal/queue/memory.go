package queue

import (
	"context"
	"sync"
	"sync/atomic"
)

type memoryMessage struct {
	body        []byte
	redelivered bool
}

// Memory is an in-process Queue with the same settlement semantics as the
// broker: one unsettled delivery at a time, nack with requeue redelivers.
type Memory struct {
	messages chan memoryMessage
	done     chan struct{}
	once     sync.Once

	// redeliveries are unbounded and served before messages
	redeliveries []memoryMessage
	mu           sync.Mutex
	wake         chan struct{}

	acked  atomic.Int64
	nacked atomic.Int64
}

// NewMemory returns a Memory queue holding up to capacity ready messages.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{
		messages: make(chan memoryMessage, capacity),
		done:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
}

func (m *Memory) Publish(ctx context.Context, body []byte) error {
	return m.push(ctx, memoryMessage{body: append([]byte(nil), body...)})
}

func (m *Memory) push(ctx context.Context, msg memoryMessage) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.messages <- msg:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Depth(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages) + len(m.redeliveries), nil
}

func (m *Memory) Consume(ctx context.Context) (<-chan Delivery, error) {
	select {
	case <-m.done:
		return nil, ErrClosed
	default:
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			msg, ok := m.next(ctx)
			if !ok {
				return
			}

			d := &memoryDelivery{queue: m, msg: msg, settled: make(chan struct{})}
			select {
			case out <- d:
			case <-ctx.Done():
				m.requeue(msg)
				return
			case <-m.done:
				return
			}

			// prefetch of one
			select {
			case <-d.settled:
			case <-ctx.Done():
				return
			case <-m.done:
				return
			}
		}
	}()

	return out, nil
}

// next blocks for the next message, redeliveries first.
func (m *Memory) next(ctx context.Context) (memoryMessage, bool) {
	for {
		m.mu.Lock()
		if len(m.redeliveries) > 0 {
			msg := m.redeliveries[0]
			m.redeliveries = m.redeliveries[1:]
			m.mu.Unlock()
			return msg, true
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return memoryMessage{}, false
		case <-m.done:
			return memoryMessage{}, false
		case <-m.wake:
		case msg := <-m.messages:
			return msg, true
		}
	}
}

func (m *Memory) requeue(msg memoryMessage) {
	msg.redelivered = true

	m.mu.Lock()
	m.redeliveries = append(m.redeliveries, msg)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Acked returns the number of acknowledged deliveries.
func (m *Memory) Acked() int64 { return m.acked.Load() }

// Nacked returns the number of negatively acknowledged deliveries.
func (m *Memory) Nacked() int64 { return m.nacked.Load() }

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

type memoryDelivery struct {
	queue   *Memory
	msg     memoryMessage
	settled chan struct{}
	once    sync.Once
}

func (d *memoryDelivery) Body() []byte      { return d.msg.body }
func (d *memoryDelivery) Redelivered() bool { return d.msg.redelivered }

func (d *memoryDelivery) Ack() error {
	d.settle(func() { d.queue.acked.Add(1) })
	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	d.settle(func() {
		d.queue.nacked.Add(1)
		if requeue {
			d.queue.requeue(d.msg)
		}
	})
	return nil
}

func (d *memoryDelivery) settle(fn func()) {
	d.once.Do(func() {
		fn()
		close(d.settled)
	})
}
