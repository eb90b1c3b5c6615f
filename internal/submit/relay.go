package submit

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron"
	"github.com/visionml/trainer/internal/queue"
	"github.com/visionml/trainer/internal/store"
	"github.com/visionml/trainer/pkg/log"
)

const relayBatch = 100

// Relay periodically publishes outbox messages that were recorded but never
// accepted by the broker.
type Relay struct {
	outbox   *store.OutboxStore
	queue    queue.Publisher
	schedule string
	grace    time.Duration
	mu       sync.Mutex
}

// NewRelay creates a relay. Messages younger than grace are left to the
// submitter's own publish attempt.
func NewRelay(outbox *store.OutboxStore, q queue.Publisher, schedule string, grace time.Duration) *Relay {
	if schedule == "" {
		schedule = "@every 5s"
	}
	return &Relay{outbox: outbox, queue: q, schedule: schedule, grace: grace}
}

// Flush publishes every due message in creation order and returns how many
// were published. A publish failure stops the pass.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	if !r.mu.TryLock() {
		return 0, nil
	}
	defer r.mu.Unlock()

	msgs, err := r.outbox.Undispatched(ctx, time.Now().UTC().Add(-r.grace), relayBatch)
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range msgs {
		msg := &msgs[i]
		if err := dispatch(ctx, r.queue, r.outbox, msg); err != nil {
			return published, errors.Wrapf(err, "relay job %s", msg.JobID)
		}
		log.Info("relayed deferred training job", "job_id", msg.JobID, "attempts", msg.Attempts+1)
		published++
	}

	return published, nil
}

// Run flushes on the configured cron schedule until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	c := cron.New()
	if err := c.AddFunc(r.schedule, func() {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			log.Warn("outbox relay pass failed", "error", err)
		}
	}); err != nil {
		return errors.Wrapf(err, "invalid outbox schedule %q", r.schedule)
	}

	log.Info("outbox relay started", "schedule", r.schedule)
	c.Start()
	<-ctx.Done()
	c.Stop()

	return nil
}
