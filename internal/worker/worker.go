package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/visionml/trainer/internal/execution"
	"github.com/visionml/trainer/internal/logchan"
	"github.com/visionml/trainer/internal/metrics"
	"github.com/visionml/trainer/internal/models"
	"github.com/visionml/trainer/internal/queue"
	"github.com/visionml/trainer/internal/store"
	"github.com/visionml/trainer/internal/training"
	"github.com/visionml/trainer/pkg/log"
	"github.com/visionml/trainer/pkg/retry"
)

// ErrQueueClosed is returned by Run when the broker stops delivering.
var ErrQueueClosed = errors.New("work queue delivery channel closed")

// JobStore is the status store as seen by the worker.
type JobStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error)
	Transition(ctx context.Context, id uuid.UUID, to models.JobStatus, errMsg string) error
	IncrementRetry(ctx context.Context, id uuid.UUID) error
}

// Executor runs one training job to completion.
type Executor interface {
	Execute(ctx context.Context, body []byte) error
}

// Options tune execution.
type Options struct {
	// Timeout bounds a single execution attempt.
	Timeout time.Duration
	// MaxAttempts is the total number of execution attempts per delivery.
	MaxAttempts int
	// Backoff is the delay before the first re-attempt; it doubles after.
	Backoff time.Duration
}

// Worker consumes the work queue one message at a time and drives each
// job through running to a terminal status.
type Worker struct {
	queue    queue.Consumer
	jobs     JobStore
	executor Executor
	logs     *logchan.Producer
	opts     Options
}

func NewWorker(q queue.Consumer, jobs JobStore, executor Executor, logs *logchan.Producer, opts Options) *Worker {
	if q == nil {
		panic("worker requires a work queue")
	}
	if jobs == nil {
		panic("worker requires a job store")
	}
	if executor == nil {
		panic("worker requires an executor")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}

	return &Worker{
		queue:    q,
		jobs:     jobs,
		executor: executor,
		logs:     logs,
		opts:     opts,
	}
}

// Run processes deliveries until ctx is done. A message interrupted by
// cancellation is requeued.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.queue.Consume(ctx)
	if err != nil {
		return errors.Wrap(err, "start consuming")
	}

	log.Info("training worker consuming", "timeout", w.opts.Timeout, "max_attempts", w.opts.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrQueueClosed
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	msg, err := queue.Decode(d.Body())
	if err != nil {
		log.Error("rejecting undecodable job message", "redelivered", d.Redelivered(), "error", err)
		settle(d.Nack(false), "nack")
		return
	}

	id := msg.JobID
	job, err := w.jobs.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		log.Warn("dropping message for unknown job", "job_id", id, "dispatch_token", msg.DispatchToken)
		settle(d.Ack(), "ack")
		return
	case err != nil:
		log.Error("failed to load job", "job_id", id, "error", err)
		w.requeue(ctx, d)
		return
	}

	if training.Terminal(job.Status) {
		log.Info("job already finished, acknowledging duplicate delivery", "job_id", id, "status", job.Status)
		settle(d.Ack(), "ack")
		return
	}

	if err := w.jobs.Transition(ctx, id, models.JobStatusRunning, ""); err != nil {
		log.Error("failed to mark job running", "job_id", id, "error", err)
		if errors.Is(err, training.ErrInvalidTransition) {
			settle(d.Ack(), "ack")
			return
		}
		w.requeue(ctx, d)
		return
	}
	metrics.JobTransitionsTotal.WithLabelValues(string(models.JobStatusRunning)).Inc()

	log.Info("training job started", "job_id", id, "redelivered", d.Redelivered())
	w.logs.Logf(ctx, id.String(), "job %s started", id)

	start := time.Now()
	execErr := w.execute(ctx, id, d.Body())

	if ctx.Err() != nil {
		log.Warn("shutdown interrupted training job, requeueing", "job_id", id)
		settle(d.Nack(true), "nack")
		return
	}

	final, summary := models.JobStatusCompleted, ""
	if execErr != nil {
		final, summary = models.JobStatusFailed, execution.Summary(execErr)
	}
	metrics.ExecutionDurationSeconds.WithLabelValues(string(final)).Observe(time.Since(start).Seconds())

	if err := w.jobs.Transition(ctx, id, final, summary); err != nil {
		log.Error("failed to record job outcome, requeueing", "job_id", id, "status", final, "error", err)
		w.requeue(ctx, d)
		return
	}
	metrics.JobTransitionsTotal.WithLabelValues(string(final)).Inc()

	if execErr != nil {
		log.Warn("training job failed", "job_id", id, "error", summary)
		w.logs.Logf(ctx, id.String(), "job %s failed: %s", id, summary)
	} else {
		log.Info("training job completed", "job_id", id, "duration", time.Since(start))
		w.logs.Logf(ctx, id.String(), "job %s completed", id)
	}

	settle(d.Ack(), "ack")
}

// execute runs the job, retrying up to MaxAttempts times. Every re-attempt
// is counted on the job row.
func (w *Worker) execute(ctx context.Context, id uuid.UUID, body []byte) error {
	attempt := 0

	op := func() error {
		if attempt > 0 {
			if err := w.jobs.IncrementRetry(ctx, id); err != nil {
				log.Warn("failed to record retry", "job_id", id, "error", err)
			}
			w.logs.Logf(ctx, id.String(), "job %s retrying (attempt %d of %d)", id, attempt+1, w.opts.MaxAttempts)
		}
		attempt++

		err := w.attempt(ctx, body)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil {
			log.Warn("execution attempt failed", "job_id", id, "attempt", attempt, "error", err)
		}
		return err
	}

	return backoff.Retry(op, retry.Exponential(ctx, w.opts.Backoff, 0, w.opts.MaxAttempts-1))
}

func (w *Worker) attempt(ctx context.Context, body []byte) error {
	callCtx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	err := w.executor.Execute(callCtx, body)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", execution.ErrTimeout, w.opts.Timeout)
	}
	return err
}

// requeue hands a delivery back to the broker after the retry backoff.
func (w *Worker) requeue(ctx context.Context, d queue.Delivery) {
	_ = sleepWithContext(ctx, w.opts.Backoff)
	settle(d.Nack(true), "nack")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func settle(err error, op string) {
	if err != nil {
		log.Error("failed to settle delivery", "op", op, "error", err)
	}
}
