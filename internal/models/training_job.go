package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobStatus is the lifecycle state of a TrainingJob.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// TrainingJob is the durable status record of one submitted training job.
type TrainingJob struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string         `gorm:"type:text" json:"name,omitempty"`
	Payload       datatypes.JSON `gorm:"type:json" json:"payload"`
	Status        JobStatus      `gorm:"type:text;index;not null" json:"status"`
	DispatchToken string         `gorm:"type:text;uniqueIndex;not null" json:"dispatch_token"`
	RetryCount    int            `gorm:"not null;default:0" json:"retry_count"`
	ErrorMessage  *string        `gorm:"type:text" json:"error_message"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}
