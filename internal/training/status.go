// Package training holds the TrainingJob status state machine.
package training

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/visionml/trainer/internal/models"
)

// ErrInvalidTransition is returned for a status change the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// running -> running is allowed so a redelivered message can resume a job
// whose worker died mid-execution.
var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusRunning:   {models.JobStatusPending, models.JobStatusRunning},
	models.JobStatusCompleted: {models.JobStatusRunning},
	models.JobStatusFailed:    {models.JobStatusRunning},
}

// Terminal reports whether no further transition can leave status.
func Terminal(status models.JobStatus) bool {
	return status == models.JobStatusCompleted || status == models.JobStatusFailed
}

// Valid reports whether status is a known job status.
func Valid(status models.JobStatus) bool {
	switch status {
	case models.JobStatusPending, models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to models.JobStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Validate returns ErrInvalidTransition when from -> to is not allowed.
func Validate(from, to models.JobStatus) error {
	if !CanTransition(from, to) {
		return errors.Wrap(ErrInvalidTransition, fmt.Sprintf("%s -> %s", from, to))
	}
	return nil
}

// Predecessors returns the statuses from which to can be reached, for use in
// conditional updates.
func Predecessors(to models.JobStatus) []string {
	from := transitions[to]
	out := make([]string, len(from))
	for i, s := range from {
		out[i] = string(s)
	}
	return out
}
