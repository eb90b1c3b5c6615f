package job

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/visionml/trainer/internal/models"
	"github.com/visionml/trainer/internal/store"
	"github.com/visionml/trainer/internal/training"
)

func (ctrl *Controller) List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	jobs, err := ctrl.jobs.List(c.Request().Context(), req)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, jobs)
}

func parseListRequest(c echo.Context) (req store.ListRequest, err error) {
	if status := c.QueryParam("status"); status != "" {
		if !training.Valid(models.JobStatus(status)) {
			return req, fmt.Errorf("unknown status %q", status)
		}
		req.Status = models.JobStatus(status)
	}

	req.Limit, req.Offset, err = parsePage(c)
	return
}

func parsePage(c echo.Context) (limit, offset int, err error) {
	if v := c.QueryParam("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
	}

	if v := c.QueryParam("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", v)
		}
	}

	return
}
