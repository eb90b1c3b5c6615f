package logchan

import (
	"context"
	"fmt"

	"github.com/visionml/trainer/pkg/log"
)

// Producer writes log lines for jobs. Publish failures are logged and
// never interrupt the caller.
type Producer struct {
	ch Channel
}

// NewProducer returns a Producer publishing to ch.
func NewProducer(ch Channel) *Producer {
	return &Producer{ch: ch}
}

// Logf publishes one formatted line for jobID.
func (p *Producer) Logf(ctx context.Context, jobID string, format string, args ...interface{}) {
	if p == nil || p.ch == nil {
		return
	}

	text := fmt.Sprintf(format, args...)
	if err := p.ch.Publish(ctx, Envelope{JobID: jobID, Text: text}); err != nil {
		log.Warn("failed to publish job log line", "job_id", jobID, "error", err)
	}
}
