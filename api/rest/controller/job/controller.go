package job

import (
	"github.com/visionml/trainer/internal/logchan"
	"github.com/visionml/trainer/internal/store"
	"github.com/visionml/trainer/internal/submit"
)

// Controller serves the /jobs REST resource.
type Controller struct {
	submitter *submit.Submitter
	jobs      *store.JobStore
	logs      *store.LogStore
	channel   logchan.Channel
}

func New(submitter *submit.Submitter, jobs *store.JobStore, logs *store.LogStore, channel logchan.Channel) *Controller {
	return &Controller{
		submitter: submitter,
		jobs:      jobs,
		logs:      logs,
		channel:   channel,
	}
}
