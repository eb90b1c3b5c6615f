package models

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry is one persisted log line. A (JobID, Data) pair is stored at
// most once.
type LogEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID     string    `gorm:"type:text;not null;uniqueIndex:idx_log_entries_job_data,priority:1" json:"job_id"`
	Data      string    `gorm:"type:text;not null;uniqueIndex:idx_log_entries_job_data,priority:2" json:"data"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
