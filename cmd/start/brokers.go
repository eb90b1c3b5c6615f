package start

import (
	"context"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/visionml/trainer/internal/logchan"
	"github.com/visionml/trainer/internal/queue"
	"github.com/visionml/trainer/pkg/env"
	"github.com/visionml/trainer/pkg/log"
	"github.com/visionml/trainer/pkg/retry"
)

// brokers hands out queue and log channel handles. The memory broker
// shares one instance of each across roles; RabbitMQ gives every role its
// own connection.
type brokers struct {
	vars    env.Environment
	queue   *queue.Memory
	channel logchan.Channel
	closers []io.Closer
}

func newBrokers(vars env.Environment) *brokers {
	return &brokers{vars: vars}
}

func (b *brokers) memory() bool {
	return strings.ToLower(b.vars.Broker) == env.BrokerMemory
}

// Queue returns a work queue handle for role.
func (b *brokers) Queue(ctx context.Context, role string) (queue.Queue, error) {
	if b.memory() {
		if b.queue == nil {
			b.queue = queue.NewMemory(0)
			b.closers = append(b.closers, b.queue)
		}
		return b.queue, nil
	}

	q, err := retry.Connect(ctx, "rabbitmq/"+role, b.vars.ConnectAttempts, b.vars.ConnectBackoff,
		func(context.Context) (*queue.RabbitMQ, error) {
			return queue.DialRabbitMQ(b.vars.RabbitMQURL, b.vars.QueueName)
		})
	if err != nil {
		return nil, err
	}

	b.closers = append(b.closers, q)
	return q, nil
}

// Channel returns the log channel shared by all roles.
func (b *brokers) Channel(ctx context.Context) (logchan.Channel, error) {
	if b.channel != nil {
		return b.channel, nil
	}

	if b.memory() {
		b.channel = logchan.NewMemory(0)
		b.closers = append(b.closers, b.channel)
		return b.channel, nil
	}

	ch := logchan.NewRedis(&redis.Options{
		Addr:     b.vars.RedisAddr,
		DB:       b.vars.RedisDB,
		Password: b.vars.RedisPassword,
	}, b.vars.LogChannel)

	if _, err := retry.Connect(ctx, "redis", b.vars.ConnectAttempts, b.vars.ConnectBackoff,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, ch.Ping(ctx)
		}); err != nil {
		ch.Close()
		return nil, err
	}

	b.channel = ch
	b.closers = append(b.closers, ch)
	return ch, nil
}

// Close releases every handle in reverse order of creation.
func (b *brokers) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			log.Warn("broker close failure", "error", err)
		}
	}
	b.closers = nil
}
