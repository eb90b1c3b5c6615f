package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/visionml/trainer/internal/logchan"
	"github.com/visionml/trainer/internal/models"
	"github.com/visionml/trainer/internal/queue"
	"github.com/visionml/trainer/internal/store"
	"github.com/visionml/trainer/internal/submit"
	"github.com/visionml/trainer/internal/testutil"
	"github.com/visionml/trainer/pkg/client"
)

// downQueue refuses every publish.
type downQueue struct{}

func (downQueue) Publish(context.Context, []byte) error { return errors.New("connection refused") }
func (downQueue) Depth(context.Context) (int, error)    { return 0, nil }

type APITestSuite struct {
	suite.Suite
	jobs    *store.JobStore
	logs    *store.LogStore
	outbox  *store.OutboxStore
	queue   *queue.Memory
	channel *logchan.Memory
	server  *httptest.Server
	client  client.Trainer
}

func (s *APITestSuite) SetupTest() {
	db := testutil.OpenTestDB(s.T())

	s.jobs = store.NewJobStore(db)
	s.logs = store.NewLogStore(db)
	s.outbox = store.NewOutboxStore(db)
	s.queue = queue.NewMemory(0)
	s.channel = logchan.NewMemory(0)

	s.server = s.serve(submit.New(s.jobs, s.outbox, s.queue))
	s.client = client.Client(s.server.URL)
}

func (s *APITestSuite) TearDownTest() {
	s.server.Close()
	s.queue.Close()
	s.channel.Close()
}

func (s *APITestSuite) serve(submitter *submit.Submitter) *httptest.Server {
	e := New(Dependencies{
		Submitter: submitter,
		Jobs:      s.jobs,
		Logs:      s.logs,
		Channel:   s.channel,
		Registry:  prometheus.NewRegistry(),
	})
	return httptest.NewServer(e)
}

func (s *APITestSuite) payload() map[string]interface{} {
	var p map[string]interface{}
	require.NoError(s.T(), json.Unmarshal([]byte(testutil.SamplePayload), &p))
	return p
}

func (s *APITestSuite) TestHealth() {
	resp, err := http.Get(s.server.URL + "/health")
	require.NoError(s.T(), err)
	defer resp.Body.Close()

	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var body HealthResponse
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(s.T(), Healthy, body.Status)
}

func (s *APITestSuite) TestSubmitAndPoll() {
	ctx := context.Background()

	receipt, err := s.client.Submit(ctx, s.payload())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusPending, receipt.Status)
	assert.Equal(s.T(), 1, receipt.Pending)
	assert.True(s.T(), strings.HasPrefix(receipt.DispatchToken, "queue-"))

	job, err := s.client.Job(ctx, receipt.JobID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), receipt.JobID, job.ID)
	assert.Equal(s.T(), "resnet-cifar10", job.Name)
	assert.Equal(s.T(), models.JobStatusPending, job.Status)
}

func (s *APITestSuite) TestSubmitDeferred() {
	server := s.serve(submit.New(s.jobs, s.outbox, downQueue{}))
	defer server.Close()

	receipt, err := client.Client(server.URL).Submit(context.Background(), s.payload())
	require.ErrorIs(s.T(), err, submit.ErrEnqueueDeferred)
	require.NotNil(s.T(), receipt)

	job, err := s.jobs.Get(context.Background(), receipt.JobID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusPending, job.Status)
}

func (s *APITestSuite) TestSubmitRejectsNonObject() {
	resp, err := http.Post(s.server.URL+"/v1/jobs", "application/json", strings.NewReader(`[1,2]`))
	require.NoError(s.T(), err)
	resp.Body.Close()

	assert.Equal(s.T(), http.StatusBadRequest, resp.StatusCode)

	depth, err := s.queue.Depth(context.Background())
	require.NoError(s.T(), err)
	assert.Zero(s.T(), depth)
}

func (s *APITestSuite) TestGetUnknownJob() {
	_, err := s.client.Job(context.Background(), uuid.New())

	var apiErr *client.APIError
	require.ErrorAs(s.T(), err, &apiErr)
	assert.Equal(s.T(), http.StatusNotFound, apiErr.StatusCode)
}

func (s *APITestSuite) TestGetMalformedID() {
	resp, err := http.Get(s.server.URL + "/v1/jobs/not-a-uuid")
	require.NoError(s.T(), err)
	resp.Body.Close()

	assert.Equal(s.T(), http.StatusBadRequest, resp.StatusCode)
}

func (s *APITestSuite) TestListFiltersByStatus() {
	ctx := context.Background()

	first, err := s.client.Submit(ctx, s.payload())
	require.NoError(s.T(), err)
	_, err = s.client.Submit(ctx, s.payload())
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.jobs.Transition(ctx, first.JobID, models.JobStatusRunning, ""))

	resp, err := http.Get(s.server.URL + "/v1/jobs?status=running")
	require.NoError(s.T(), err)
	defer resp.Body.Close()

	var jobs []models.TrainingJob
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(&jobs))
	require.Len(s.T(), jobs, 1)
	assert.Equal(s.T(), first.JobID, jobs[0].ID)

	bad, err := http.Get(s.server.URL + "/v1/jobs?status=paused")
	require.NoError(s.T(), err)
	bad.Body.Close()
	assert.Equal(s.T(), http.StatusBadRequest, bad.StatusCode)
}

func (s *APITestSuite) TestLogsPaging() {
	ctx := context.Background()
	id := uuid.New()

	for _, line := range []string{"epoch 1", "epoch 2", "epoch 3"} {
		_, err := s.logs.InsertIgnore(ctx, id.String(), line)
		require.NoError(s.T(), err)
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := s.client.Logs(ctx, id, 2, 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), entries, 2)
	assert.Equal(s.T(), "epoch 2", entries[0].Data)
	assert.Equal(s.T(), "epoch 3", entries[1].Data)

	resp, err := http.Get(s.server.URL + "/v1/jobs/" + id.String() + "/logs?limit=-1")
	require.NoError(s.T(), err)
	resp.Body.Close()
	assert.Equal(s.T(), http.StatusBadRequest, resp.StatusCode)
}

func (s *APITestSuite) TestPublishLogs() {
	sub, err := s.channel.Subscribe(context.Background())
	require.NoError(s.T(), err)
	defer sub.Close()

	body := `{"text":"epoch 1","lines":["epoch 2"]}`
	resp, err := http.Post(s.server.URL+"/v1/jobs/job-7/logs", "application/json", strings.NewReader(body))
	require.NoError(s.T(), err)
	defer resp.Body.Close()

	assert.Equal(s.T(), http.StatusAccepted, resp.StatusCode)

	for _, want := range []string{"epoch 1", "epoch 2"} {
		select {
		case e := <-sub.Envelopes():
			assert.Equal(s.T(), logchan.Envelope{JobID: "job-7", Text: want}, e)
		case <-time.After(time.Second):
			s.T().Fatalf("no envelope for %q", want)
		}
	}
}

func (s *APITestSuite) TestPublishLogsRequiresText() {
	resp, err := http.Post(s.server.URL+"/v1/jobs/job-7/logs", "application/json", strings.NewReader(`{}`))
	require.NoError(s.T(), err)
	resp.Body.Close()

	assert.Equal(s.T(), http.StatusBadRequest, resp.StatusCode)
}

func (s *APITestSuite) TestMetrics() {
	_, err := s.client.Submit(context.Background(), s.payload())
	require.NoError(s.T(), err)

	resp, err := http.Get(s.server.URL + "/metrics")
	require.NoError(s.T(), err)
	defer resp.Body.Close()

	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
