package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/visionml/trainer/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LogStore persists LogEntry rows.
type LogStore struct {
	db *gorm.DB
}

// NewLogStore returns a LogStore backed by db.
func NewLogStore(db *gorm.DB) *LogStore {
	if db == nil {
		panic("store: nil db")
	}
	return &LogStore{db: db}
}

// InsertIgnore stores a log line unless the same (jobID, data) pair already
// exists. It reports whether a row was written.
func (s *LogStore) InsertIgnore(ctx context.Context, jobID, data string) (bool, error) {
	entry := &models.LogEntry{
		ID:        uuid.New(),
		JobID:     jobID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "data"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "insert log entry for job %s", jobID)
	}

	return res.RowsAffected > 0, nil
}

// List returns a job's log lines oldest first.
func (s *LogStore) List(ctx context.Context, jobID string, limit, offset int) ([]models.LogEntry, error) {
	q := s.db.WithContext(ctx).Where("job_id = ?", jobID)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var entries []models.LogEntry
	if err := q.Order("created_at ASC").Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Count returns the number of persisted lines for a job.
func (s *LogStore) Count(ctx context.Context, jobID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.LogEntry{}).Where("job_id = ?", jobID).Count(&n).Error
	return n, err
}
