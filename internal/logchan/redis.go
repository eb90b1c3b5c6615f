package logchan

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/visionml/trainer/pkg/log"
)

// healthCheckInterval is how long a subscription may stay silent before it
// pings the server. An unanswered ping ends the subscription.
const healthCheckInterval = 3 * time.Second

// Redis is a Channel over a single Redis pub/sub topic. Publishing shares
// one client; every subscription dials its own.
type Redis struct {
	opts      redis.Options
	topic     string
	publisher *redis.Client
	buffer    int
	health    time.Duration
}

// NewRedis returns a Channel publishing to topic.
func NewRedis(opts *redis.Options, topic string) *Redis {
	return &Redis{
		opts:      *opts,
		topic:     topic,
		publisher: redis.NewClient(opts),
		buffer:    256,
		health:    healthCheckInterval,
	}
}

// Ping checks that the publisher can reach Redis.
func (r *Redis) Ping(ctx context.Context) error {
	return r.publisher.Ping(ctx).Err()
}

func (r *Redis) Publish(ctx context.Context, e Envelope) error {
	b, err := Encode(e)
	if err != nil {
		return err
	}
	if err := r.publisher.Publish(ctx, r.topic, b).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", r.topic)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context) (Subscription, error) {
	opts := r.opts
	client := redis.NewClient(&opts)

	ps := client.Subscribe(ctx, r.topic)
	// wait for the subscribe confirmation so nothing published after we
	// return is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		client.Close()
		return nil, errors.Wrapf(err, "subscribe to %s", r.topic)
	}

	sub := &redisSubscription{
		client: client,
		ps:     ps,
		ch:     make(chan Envelope, r.buffer),
		done:   make(chan struct{}),
		health: r.health,
	}
	go sub.receive()

	return sub, nil
}

func (r *Redis) Close() error {
	return r.publisher.Close()
}

type redisSubscription struct {
	client *redis.Client
	ps     *redis.PubSub
	ch     chan Envelope
	done   chan struct{}
	once   sync.Once
	health time.Duration

	mu  sync.Mutex
	err error
}

func (s *redisSubscription) receive() {
	defer close(s.ch)

	ctx := context.Background()
	pinged := false

	for {
		msg, err := s.ps.ReceiveTimeout(ctx, s.health)
		if err != nil {
			if timeout(err) && !pinged {
				if err = s.ps.Ping(ctx); err == nil {
					pinged = true
					continue
				}
			} else if timeout(err) {
				err = errors.Wrapf(err, "no pong within %s", s.health)
			}
			s.fail(err)
			return
		}
		pinged = false

		m, ok := msg.(*redis.Message)
		if !ok {
			// pongs and subscription confirmations
			continue
		}

		e, err := Decode([]byte(m.Payload))
		if err != nil {
			log.Warn("skipping malformed log message", "channel", m.Channel, "error", err)
			continue
		}

		select {
		case s.ch <- e:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) fail(err error) {
	select {
	case <-s.done:
	default:
		s.mu.Lock()
		s.err = errors.Wrap(ErrDisconnected, err.Error())
		s.mu.Unlock()
	}
}

func timeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *redisSubscription) Envelopes() <-chan Envelope {
	return s.ch
}

func (s *redisSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSubscription) Close() (err error) {
	s.once.Do(func() {
		close(s.done)
		if e := s.ps.Close(); e != nil {
			err = e
		}
		if e := s.client.Close(); e != nil && err == nil {
			err = e
		}
	})
	return err
}
