package job

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/visionml/trainer/internal/logchan"
	"github.com/visionml/trainer/pkg/log"
)

// PublishRequest carries one line in Text or several in Lines.
type PublishRequest struct {
	Text  string   `json:"text"`
	Lines []string `json:"lines"`
}

// PublishResponse reports how many lines reached the log channel.
type PublishResponse struct {
	Published int `json:"published"`
}

func (ctrl *Controller) Logs(c echo.Context) error {
	jobID := c.Param("id")

	limit, offset, err := parsePage(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	entries, err := ctrl.logs.List(c.Request().Context(), jobID, limit, offset)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, entries)
}

func (ctrl *Controller) PublishLogs(c echo.Context) error {
	var (
		jobID = c.Param("id")
		req   = &PublishRequest{}
	)

	if err := c.Bind(req); err != nil {
		return err
	}

	lines := req.Lines
	if req.Text != "" {
		lines = append([]string{req.Text}, lines...)
	}

	if len(lines) == 0 {
		return echo.ErrBadRequest.SetInternal(fmt.Errorf("text or lines is required"))
	}

	ctx := c.Request().Context()
	for _, line := range lines {
		if err := ctrl.channel.Publish(ctx, logchan.Envelope{JobID: jobID, Text: line}); err != nil {
			log.Error("failed to publish log line", "job_id", jobID, "error", err)
			return echo.ErrServiceUnavailable.SetInternal(err)
		}
	}

	log.Debug("published log lines", "job_id", jobID, "count", len(lines))

	return c.JSON(http.StatusAccepted, PublishResponse{Published: len(lines)})
}
