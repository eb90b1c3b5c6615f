// Package submit records training jobs and hands them to the work queue.
package submit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/visionml/trainer/internal/metrics"
	"github.com/visionml/trainer/internal/models"
	"github.com/visionml/trainer/internal/queue"
	"github.com/visionml/trainer/internal/store"
	"github.com/visionml/trainer/pkg/jsonmap"
	"github.com/visionml/trainer/pkg/log"
	"gorm.io/datatypes"
)

const tokenPrefix = "queue-"

var (
	// ErrEnqueueDeferred is returned, together with a receipt, when the job
	// was recorded but could not be published yet. The outbox relay
	// publishes it later.
	ErrEnqueueDeferred = errors.New("job recorded, enqueue deferred")
	// ErrInvalidPayload rejects payloads that are not JSON objects.
	ErrInvalidPayload = errors.New("payload must be a JSON object")
)

// Receipt is returned to the caller of Submit.
type Receipt struct {
	JobID         uuid.UUID        `json:"jobId"`
	DispatchToken string           `json:"dispatchToken"`
	Status        models.JobStatus `json:"status"`
	Pending       int              `json:"pending"`
}

// Submitter accepts training requests.
type Submitter struct {
	jobs   *store.JobStore
	outbox *store.OutboxStore
	queue  queue.Publisher
}

func New(jobs *store.JobStore, outbox *store.OutboxStore, q queue.Publisher) *Submitter {
	if jobs == nil || outbox == nil || q == nil {
		panic("submitter requires job store, outbox store and queue")
	}
	return &Submitter{jobs: jobs, outbox: outbox, queue: q}
}

// NewDispatchToken returns a fresh unguessable dispatch token.
func NewDispatchToken() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "generate dispatch token")
	}
	return tokenPrefix + id.String(), nil
}

// Submit records a pending job and its work queue message atomically, then
// tries to publish the message. If publishing fails the receipt is still
// returned, with ErrEnqueueDeferred.
func (s *Submitter) Submit(ctx context.Context, payload map[string]interface{}) (*Receipt, error) {
	if payload == nil {
		return nil, ErrInvalidPayload
	}

	token, err := NewDispatchToken()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	msg := queue.Message{JobID: id, DispatchToken: token, Payload: payload}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidPayload, err.Error())
	}

	stored, err := json.Marshal(jsonmap.Without(payload, "jobId", "dispatchToken"))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidPayload, err.Error())
	}

	job := &models.TrainingJob{
		ID:            id,
		Name:          jsonmap.FirstString(payload, "name", "model"),
		Payload:       datatypes.JSON(stored),
		DispatchToken: token,
	}
	out := &models.OutboxMessage{
		ID:            uuid.New(),
		JobID:         id,
		DispatchToken: token,
		Body:          body,
	}

	if err := s.jobs.CreateWithOutbox(ctx, job, out); err != nil {
		return nil, errors.Wrap(err, "record training job")
	}

	log.Info("training job recorded", "job_id", id, "dispatch_token", token, "name", job.Name)

	receipt := &Receipt{JobID: id, DispatchToken: token, Status: models.JobStatusPending}

	if err := dispatch(ctx, s.queue, s.outbox, out); err != nil {
		metrics.JobsSubmittedTotal.WithLabelValues("deferred").Inc()
		log.Warn("enqueue deferred to outbox relay", "job_id", id, "error", err)
		return receipt, errors.Wrap(ErrEnqueueDeferred, err.Error())
	}
	metrics.JobsSubmittedTotal.WithLabelValues("enqueued").Inc()

	depth, err := s.queue.Depth(ctx)
	if err != nil {
		log.Warn("failed to read queue depth", "error", err)
	}
	receipt.Pending = depth

	return receipt, nil
}

// dispatch publishes one outbox message and records the outcome.
func dispatch(ctx context.Context, q queue.Publisher, outbox *store.OutboxStore, msg *models.OutboxMessage) error {
	if err := q.Publish(ctx, msg.Body); err != nil {
		metrics.OutboxPublishesTotal.WithLabelValues("error").Inc()
		if merr := outbox.MarkFailed(ctx, msg.ID, err); merr != nil {
			log.Error("failed to record publish failure", "job_id", msg.JobID, "error", merr)
		}
		return err
	}

	metrics.OutboxPublishesTotal.WithLabelValues("published").Inc()
	if err := outbox.MarkDispatched(ctx, msg.ID); err != nil {
		// the message is on the queue; a later relay pass may publish it
		// again, which the worker tolerates
		log.Error("failed to mark outbox message dispatched", "job_id", msg.JobID, "error", err)
	}
	return nil
}
