// Package persister writes every log line seen on the log channel to the
// log store.
package persister

import (
	"context"
	"time"

	"github.com/visionml/trainer/internal/logchan"
	"github.com/visionml/trainer/internal/metrics"
	"github.com/visionml/trainer/pkg/log"
	"github.com/visionml/trainer/pkg/retry"
)

// LogStore is the subset of store.LogStore used here.
type LogStore interface {
	InsertIgnore(ctx context.Context, jobID, data string) (bool, error)
}

// Options tune resubscription.
type Options struct {
	// Backoff is the first delay before resubscribing; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Persister is the single logical consumer that persists log envelopes.
type Persister struct {
	channel logchan.Channel
	logs    LogStore
	opts    Options
}

func New(channel logchan.Channel, logs LogStore, opts Options) *Persister {
	if channel == nil {
		panic("persister requires a log channel")
	}
	if logs == nil {
		panic("persister requires a log store")
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Persister{channel: channel, logs: logs, opts: opts}
}

// Run persists envelopes until ctx is done, resubscribing whenever the
// broker drops the subscription.
func (p *Persister) Run(ctx context.Context) error {
	b := retry.Exponential(ctx, p.opts.Backoff, p.opts.MaxBackoff, -1)
	subscribed := false

	for {
		sub, err := p.channel.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := b.NextBackOff()
			log.Warn("log channel subscribe failed", "retry_in", wait, "error", err)
			if sleepWithContext(ctx, wait) != nil {
				return nil
			}
			continue
		}

		if subscribed {
			metrics.LogResubscribesTotal.Inc()
			log.Info("log persister resubscribed")
		} else {
			log.Info("log persister subscribed")
		}
		subscribed = true
		b.Reset()

		err = p.consume(ctx, sub)
		if cerr := sub.Close(); cerr != nil {
			log.Warn("close log subscription", "error", cerr)
		}
		if ctx.Err() != nil {
			return nil
		}

		wait := b.NextBackOff()
		log.Warn("log channel subscription ended", "retry_in", wait, "error", err)
		if sleepWithContext(ctx, wait) != nil {
			return nil
		}
	}
}

func (p *Persister) consume(ctx context.Context, sub logchan.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Envelopes():
			if !ok {
				return sub.Err()
			}
			p.persist(ctx, e)
		}
	}
}

func (p *Persister) persist(ctx context.Context, e logchan.Envelope) {
	if e.JobID == "" {
		log.Warn("skipping log envelope without job id")
		metrics.LogEntriesTotal.WithLabelValues("invalid").Inc()
		return
	}

	inserted, err := p.logs.InsertIgnore(ctx, e.JobID, e.Text)
	switch {
	case err != nil:
		log.Error("failed to persist log entry", "job_id", e.JobID, "error", err)
		metrics.LogEntriesTotal.WithLabelValues("error").Inc()
	case inserted:
		metrics.LogEntriesTotal.WithLabelValues("persisted").Inc()
	default:
		log.Debug("duplicate log entry ignored", "job_id", e.JobID)
		metrics.LogEntriesTotal.WithLabelValues("duplicate").Inc()
	}
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
