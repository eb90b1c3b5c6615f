package logchan

import (
	"context"
	"sync"
)

// Memory is an in-process Channel. A subscriber whose buffer is full
// misses envelopes rather than blocking the publisher.
type Memory struct {
	buffer      int
	subscribers map[*memorySubscription]struct{}
	mu          sync.RWMutex
	closed      bool
}

// NewMemory creates a Memory channel with per-subscriber buffers of the
// given size.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 100
	}
	return &Memory{
		buffer:      buffer,
		subscribers: make(map[*memorySubscription]struct{}),
	}
}

func (m *Memory) Publish(ctx context.Context, e Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	for sub := range m.subscribers {
		select {
		case sub.ch <- e:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySubscription{
		parent: m,
		ch:     make(chan Envelope, m.buffer),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	m.subscribers[sub] = struct{}{}

	return sub, nil
}

// Subscribers returns the number of open subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// Disconnect ends every open subscription with ErrDisconnected, as a broker
// outage would.
func (m *Memory) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.subscribers {
		sub.end(ErrDisconnected)
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for sub := range m.subscribers {
		sub.end(ErrClosed)
	}
	return nil
}

type memorySubscription struct {
	parent *Memory
	ch     chan Envelope
	once   sync.Once
	err    error
	errMu  sync.Mutex
}

func (s *memorySubscription) Envelopes() <-chan Envelope {
	return s.ch
}

func (s *memorySubscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *memorySubscription) Close() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()

	s.end(nil)
	return nil
}

// end must be called with the parent lock held.
func (s *memorySubscription) end(err error) {
	s.once.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()

		delete(s.parent.subscribers, s)
		close(s.ch)
	})
}
