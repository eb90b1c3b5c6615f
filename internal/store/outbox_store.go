package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/visionml/trainer/internal/models"
	"gorm.io/gorm"
)

// OutboxStore tracks the dispatch state of work queue messages.
type OutboxStore struct {
	db *gorm.DB
}

// NewOutboxStore returns an OutboxStore backed by db.
func NewOutboxStore(db *gorm.DB) *OutboxStore {
	if db == nil {
		panic("store: nil db")
	}
	return &OutboxStore{db: db}
}

// Undispatched returns up to limit messages created before cutoff that the
// broker has not yet accepted, oldest first.
func (s *OutboxStore) Undispatched(ctx context.Context, cutoff time.Time, limit int) ([]models.OutboxMessage, error) {
	q := s.db.WithContext(ctx).
		Where("dispatched_at IS NULL AND created_at <= ?", cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var msgs []models.OutboxMessage
	if err := q.Find(&msgs).Error; err != nil {
		return nil, errors.Wrap(err, "query undispatched outbox messages")
	}
	return msgs, nil
}

// MarkDispatched records a successful publish.
func (s *OutboxStore) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).
		Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"dispatched_at": now,
			"attempts":      gorm.Expr("attempts + 1"),
			"last_error":    "",
		}).Error
}

// MarkFailed records a failed publish attempt.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return s.db.WithContext(ctx).
		Model(&models.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause.Error(),
		}).Error
}

// Get loads an outbox message by its dispatch token.
func (s *OutboxStore) Get(ctx context.Context, token string) (*models.OutboxMessage, error) {
	var msg models.OutboxMessage
	if err := s.db.WithContext(ctx).First(&msg, "dispatch_token = ?", token).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}
