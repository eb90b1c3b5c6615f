// Package execution calls the external service that runs training.
package execution

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

const maxErrorBody = 4096

// ErrTimeout marks an execution that exceeded its deadline.
var ErrTimeout = errors.New("execution timed out")

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("execution service responded %d", e.StatusCode)
	}
	return fmt.Sprintf("execution service responded %d: %s", e.StatusCode, e.Body)
}

// Client posts job payloads to the execution service.
type Client struct {
	url    string
	client *http.Client
}

// New constructs a Client for url. Deadlines come from the request context,
// so the default http.Client has no timeout of its own.
func New(url string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{url: strings.TrimSpace(url), client: client}
}

// Execute POSTs body as JSON and blocks until the service responds.
func (c *Client) Execute(ctx context.Context, body []byte) error {
	if c.url == "" {
		return errors.New("execution url is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Summary turns an execution error into the message stored on a failed job:
// the service's own error body when it sent one, else the error text.
func Summary(err error) string {
	if err == nil {
		return ""
	}

	var se *StatusError
	if errors.As(err, &se) && se.Body != "" {
		return se.Body
	}
	return err.Error()
}
