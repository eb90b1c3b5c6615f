package training

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/visionml/trainer/internal/models"
)

func TestCanTransition(t *testing.T) {
	all := []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusCompleted,
		models.JobStatusFailed,
	}

	allowed := map[[2]models.JobStatus]bool{
		{models.JobStatusPending, models.JobStatusRunning}:   true,
		{models.JobStatusRunning, models.JobStatusRunning}:   true,
		{models.JobStatusRunning, models.JobStatusCompleted}: true,
		{models.JobStatusRunning, models.JobStatusFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]models.JobStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}

			err := Validate(from, to)
			if want {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidTransition), "%s -> %s", from, to)
			}
		}
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, Terminal(models.JobStatusPending))
	assert.False(t, Terminal(models.JobStatusRunning))
	assert.True(t, Terminal(models.JobStatusCompleted))
	assert.True(t, Terminal(models.JobStatusFailed))
}

func TestPredecessors(t *testing.T) {
	assert.ElementsMatch(t, []string{"pending", "running"}, Predecessors(models.JobStatusRunning))
	assert.Equal(t, []string{"running"}, Predecessors(models.JobStatusFailed))
	assert.Empty(t, Predecessors(models.JobStatusPending))
	assert.True(t, Valid(models.JobStatusFailed))
	assert.False(t, Valid(models.JobStatus("queued")))
}
