package job

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/visionml/trainer/internal/submit"
	"github.com/visionml/trainer/pkg/log"
)

// DeferredResponse is returned with 503 when the job was recorded but the
// enqueue is left to the outbox relay.
type DeferredResponse struct {
	submit.Receipt
	Message string `json:"message"`
}

func (ctrl *Controller) Post(c echo.Context) error {
	var payload map[string]interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&payload); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	if payload == nil {
		return echo.ErrBadRequest.SetInternal(fmt.Errorf("request body must be a JSON object"))
	}

	receipt, err := ctrl.submitter.Submit(c.Request().Context(), payload)
	switch {
	case errors.Is(err, submit.ErrEnqueueDeferred):
		log.Warn("training job enqueue deferred", "job_id", receipt.JobID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, DeferredResponse{
			Receipt: *receipt,
			Message: err.Error(),
		})
	case errors.Is(err, submit.ErrInvalidPayload):
		return echo.ErrBadRequest.SetInternal(err)
	case err != nil:
		log.Error("failed to submit training job", "error", err)
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusAccepted, receipt)
}
