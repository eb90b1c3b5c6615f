package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/visionml/trainer/internal/models"
	"github.com/visionml/trainer/internal/submit"
)

// Trainer is a client for the trainer REST API.
type Trainer interface {
	Submit(ctx context.Context, payload map[string]interface{}) (*submit.Receipt, error)
	Job(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error)
	Logs(ctx context.Context, id uuid.UUID, limit, offset int) ([]models.LogEntry, error)
}

// Client returns a Trainer talking to the API at baseURL.
func Client(baseURL string) Trainer {
	return &client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type client struct {
	base string
	http *http.Client
}

// APIError is a non-2xx API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trainer api responded %d: %s", e.StatusCode, e.Message)
}

// Submit posts a training request. A deferred enqueue returns the receipt
// together with an error wrapping submit.ErrEnqueueDeferred.
func (c *client) Submit(ctx context.Context, payload map[string]interface{}) (*submit.Receipt, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/jobs", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		receipt := &submit.Receipt{}
		return receipt, decode(resp.Body, receipt)
	case http.StatusServiceUnavailable:
		var deferred struct {
			submit.Receipt
			Message string `json:"message"`
		}
		if err := decode(resp.Body, &deferred); err != nil {
			return nil, err
		}
		if deferred.JobID == uuid.Nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: deferred.Message}
		}
		return &deferred.Receipt, errors.Wrap(submit.ErrEnqueueDeferred, deferred.Message)
	default:
		return nil, apiError(resp)
	}
}

func (c *client) Job(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+id.String(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	job := &models.TrainingJob{}
	return job, decode(resp.Body, job)
}

func (c *client) Logs(ctx context.Context, id uuid.UUID, limit, offset int) ([]models.LogEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}

	path := "/v1/jobs/" + id.String() + "/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var entries []models.LogEntry
	return entries, decode(resp.Body, &entries)
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return resp, nil
}

func decode(r io.Reader, v interface{}) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body struct {
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
