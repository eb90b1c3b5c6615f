package submit

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/visionml/trainer/internal/models"
	"github.com/visionml/trainer/internal/queue"
	"github.com/visionml/trainer/internal/store"
	"github.com/visionml/trainer/internal/testutil"
	"gorm.io/gorm"
)

// brokenQueue fails publishes while down is set.
type brokenQueue struct {
	*queue.Memory
	down atomic.Bool
}

func (b *brokenQueue) Publish(ctx context.Context, body []byte) error {
	if b.down.Load() {
		return errors.New("connection refused")
	}
	return b.Memory.Publish(ctx, body)
}

type fixture struct {
	db     *gorm.DB
	jobs   *store.JobStore
	outbox *store.OutboxStore
	queue  *brokenQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.OpenTestDB(t)
	q := &brokenQueue{Memory: queue.NewMemory(0)}
	t.Cleanup(func() { q.Close() })

	return &fixture{
		db:     db,
		jobs:   store.NewJobStore(db),
		outbox: store.NewOutboxStore(db),
		queue:  q,
	}
}

func (f *fixture) submitter() *Submitter {
	return New(f.jobs, f.outbox, f.queue)
}

func samplePayload(t *testing.T) map[string]interface{} {
	t.Helper()

	var p map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(testutil.SamplePayload), &p))
	return p
}

func TestSubmitRecordsPendingJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt, err := f.submitter().Submit(ctx, samplePayload(t))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(receipt.DispatchToken, "queue-"))
	assert.Equal(t, models.JobStatusPending, receipt.Status)
	assert.Equal(t, 1, receipt.Pending)

	job, err := f.jobs.Get(ctx, receipt.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, receipt.DispatchToken, job.DispatchToken)
	assert.Equal(t, "resnet-cifar10", job.Name)
	assert.JSONEq(t, testutil.SamplePayload, string(job.Payload))

	out, err := f.outbox.Get(ctx, receipt.DispatchToken)
	require.NoError(t, err)
	assert.NotNil(t, out.DispatchedAt)
	assert.Equal(t, 1, out.Attempts)
}

func TestSubmitPublishesFlattenedMessage(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := samplePayload(t)
	payload["jobId"] = "caller-supplied"

	receipt, err := f.submitter().Submit(ctx, payload)
	require.NoError(t, err)

	deliveries, err := f.queue.Consume(ctx)
	require.NoError(t, err)

	var d queue.Delivery
	select {
	case d = <-deliveries:
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}

	msg, err := queue.Decode(d.Body())
	require.NoError(t, err)
	assert.Equal(t, receipt.JobID, msg.JobID)
	assert.Equal(t, receipt.DispatchToken, msg.DispatchToken)

	want := samplePayload(t)
	if diff := cmp.Diff(want, msg.Payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitTokensAreUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.submitter()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		receipt, err := s.Submit(ctx, map[string]interface{}{"model": "resnet"})
		require.NoError(t, err)
		assert.False(t, seen[receipt.DispatchToken], "duplicate token %s", receipt.DispatchToken)
		seen[receipt.DispatchToken] = true
	}

	testutil.AssertCount(t, f.db, &models.TrainingJob{}, 20)
}

func TestSubmitDefersWhenBrokerDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.down.Store(true)

	receipt, err := f.submitter().Submit(ctx, samplePayload(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEnqueueDeferred))
	require.NotNil(t, receipt)

	job, err := f.jobs.Get(ctx, receipt.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	out, err := f.outbox.Get(ctx, receipt.DispatchToken)
	require.NoError(t, err)
	assert.Nil(t, out.DispatchedAt)
	assert.Equal(t, 1, out.Attempts)
	assert.Contains(t, out.LastError, "connection refused")

	depth, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestSubmitRejectsNilPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.submitter().Submit(context.Background(), nil)
	assert.Equal(t, ErrInvalidPayload, err)
	testutil.AssertCount(t, f.db, &models.TrainingJob{}, 0)
}

func TestNewDispatchToken(t *testing.T) {
	a, err := NewDispatchToken()
	require.NoError(t, err)
	b, err := NewDispatchToken()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("queue-")+36)
}
