package models

import (
	"time"

	"github.com/google/uuid"
)

// OutboxMessage is a work queue message recorded in the same transaction as
// its TrainingJob and published afterwards.
type OutboxMessage struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	JobID         uuid.UUID  `gorm:"type:uuid;index;not null" json:"job_id"`
	DispatchToken string     `gorm:"type:text;uniqueIndex;not null" json:"dispatch_token"`
	Body          []byte     `gorm:"not null" json:"body"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	LastError     string     `gorm:"type:text" json:"last_error,omitempty"`
	DispatchedAt  *time.Time `gorm:"index" json:"dispatched_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;index" json:"created_at"`
}
