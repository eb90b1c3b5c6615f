// Package logchan is the shared pub/sub topic carrying training log lines.
package logchan

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned once a channel has been closed.
	ErrClosed = errors.New("log channel closed")
	// ErrDisconnected marks a subscription ended by the broker.
	ErrDisconnected = errors.New("log channel disconnected")
)

// Envelope is one log line for one job.
type Envelope struct {
	JobID string `json:"jobId"`
	Text  string `json:"text"`
}

// Channel publishes envelopes to every current subscriber. There is no
// backlog: a subscriber only sees envelopes published after it subscribed.
type Channel interface {
	Publish(ctx context.Context, e Envelope) error
	// Subscribe opens a dedicated subscription. ctx bounds only the
	// subscribe call itself; the subscription lives until Close.
	Subscribe(ctx context.Context) (Subscription, error)
	Close() error
}

// Subscription is a private stream of envelopes.
type Subscription interface {
	// Envelopes is closed when the subscription ends.
	Envelopes() <-chan Envelope
	// Err is non-nil if the broker ended the subscription.
	Err() error
	// Close releases the subscription. Repeated calls are no-ops.
	Close() error
}

// Encode renders an envelope as its wire form.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses the wire form. Messages without a job id are rejected.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return e, errors.Wrap(err, "decode log envelope")
	}
	if e.JobID == "" {
		return e, errors.New("log envelope without jobId")
	}
	return e, nil
}
