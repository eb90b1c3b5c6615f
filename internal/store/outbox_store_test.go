package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/visionml/trainer/internal/testutil"
)

func TestOutboxDispatchState(t *testing.T) {
	db := testutil.OpenTestDB(t)
	outbox := NewOutboxStore(db)
	ctx := context.Background()

	job := newJob(t, db)
	cutoff := time.Now().UTC().Add(time.Second)

	pending, err := outbox.Undispatched(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	msg := pending[0]
	assert.Equal(t, job.ID, msg.JobID)

	require.NoError(t, outbox.MarkFailed(ctx, msg.ID, errors.New("connection reset")))
	got, err := outbox.Get(ctx, job.DispatchToken)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "connection reset", got.LastError)
	assert.Nil(t, got.DispatchedAt)

	require.NoError(t, outbox.MarkDispatched(ctx, msg.ID))
	got, err = outbox.Get(ctx, job.DispatchToken)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Empty(t, got.LastError)
	assert.NotNil(t, got.DispatchedAt)

	pending, err = outbox.Undispatched(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxRespectsCutoff(t *testing.T) {
	db := testutil.OpenTestDB(t)
	outbox := NewOutboxStore(db)

	newJob(t, db)

	pending, err := outbox.Undispatched(context.Background(), time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
