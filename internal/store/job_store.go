package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/visionml/trainer/internal/models"
	"github.com/visionml/trainer/internal/training"
	"gorm.io/gorm"
)

// ErrJobNotFound is returned when no TrainingJob has the requested id.
var ErrJobNotFound = errors.New("training job not found")

// ErrConflict is returned when a transition matched no row although the
// job's current status allows it; the status changed concurrently and the
// caller may retry.
var ErrConflict = errors.New("training job changed concurrently")

// JobStore persists TrainingJob rows.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore returns a JobStore backed by db.
func NewJobStore(db *gorm.DB) *JobStore {
	if db == nil {
		panic("store: nil db")
	}
	return &JobStore{db: db}
}

// CreateWithOutbox inserts a pending job together with the outbox message
// that will dispatch it, in one transaction.
func (s *JobStore) CreateWithOutbox(ctx context.Context, job *models.TrainingJob, msg *models.OutboxMessage) error {
	now := time.Now().UTC()
	job.Status = models.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	msg.CreatedAt = now

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return errors.Wrap(err, "insert training job")
		}
		if err := tx.Create(msg).Error; err != nil {
			return errors.Wrap(err, "insert outbox message")
		}
		return nil
	})
}

// Get loads a job by id.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error) {
	var job models.TrainingJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListRequest filters and pages List results.
type ListRequest struct {
	Status models.JobStatus
	Limit  int
	Offset int
}

// List returns jobs newest first.
func (s *JobStore) List(ctx context.Context, req ListRequest) ([]models.TrainingJob, error) {
	q := s.db.WithContext(ctx).Model(&models.TrainingJob{})
	if req.Status != "" {
		q = q.Where("status = ?", string(req.Status))
	}
	if req.Limit > 0 {
		q = q.Limit(req.Limit)
	}
	if req.Offset > 0 {
		q = q.Offset(req.Offset)
	}

	var jobs []models.TrainingJob
	if err := q.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Transition moves a job to status `to`, but only if its current status is
// an allowed predecessor. errMsg is recorded for failed jobs and cleared on
// completion.
func (s *JobStore) Transition(ctx context.Context, id uuid.UUID, to models.JobStatus, errMsg string) error {
	from := training.Predecessors(to)
	if len(from) == 0 {
		return errors.Wrapf(training.ErrInvalidTransition, "no transition leads to %s", to)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": now,
	}

	switch to {
	case models.JobStatusRunning:
		updates["started_at"] = now
	case models.JobStatusCompleted:
		updates["error_message"] = nil
		updates["completed_at"] = now
	case models.JobStatusFailed:
		updates["error_message"] = errMsg
		updates["completed_at"] = now
	}

	res := s.db.WithContext(ctx).
		Model(&models.TrainingJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update job %s to %s", id, to)
	}

	if res.RowsAffected == 0 {
		job, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		return unapplied(id, job.Status, to)
	}

	return nil
}

// unapplied explains a transition that updated no row, given the status
// read back afterwards.
func unapplied(id uuid.UUID, current, to models.JobStatus) error {
	if err := training.Validate(current, to); err != nil {
		return err
	}
	return errors.Wrapf(ErrConflict, "job %s moved to %s before reaching %s", id, current, to)
}

// IncrementRetry bumps the retry counter of a running job.
func (s *JobStore) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Model(&models.TrainingJob{}).
		Where("id = ? AND status = ?", id, string(models.JobStatusRunning)).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "increment retry count of job %s", id)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}
