package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/visionml/trainer/api/rest/bind"
	"github.com/visionml/trainer/api/rest/controller/job"
	"github.com/visionml/trainer/internal/gateway"
	"github.com/visionml/trainer/internal/logchan"
	"github.com/visionml/trainer/internal/store"
	"github.com/visionml/trainer/internal/submit"
	"github.com/visionml/trainer/pkg/log"
)

// Dependencies are the components served by the API.
type Dependencies struct {
	Submitter *submit.Submitter
	Jobs      *store.JobStore
	Logs      *store.LogStore
	Channel   logchan.Channel
	Gateway   *gateway.Gateway
	// Registry overrides the default prometheus registry.
	Registry *prometheus.Registry
}

// New builds trainer's HTTP router.
func New(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// health
	e.GET("/health", Health)

	// metrics
	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		reg, gatherer = deps.Registry, deps.Registry
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "trainer",
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			switch c.Path() {
			case "/metrics", "/logs/:jobId", "/ws/logs/:jobId":
				return true
			}
			return false
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: gatherer}))

	// REST
	bind.All(e.Group("/v1"), job.New(deps.Submitter, deps.Jobs, deps.Logs, deps.Channel))

	// live logs
	if deps.Gateway != nil {
		deps.Gateway.Bind(e)
	}

	return e
}

// Start serves the API on port until ctx is done, then shuts down within
// shutdownTimeout.
func Start(ctx context.Context, deps Dependencies, port int, shutdownTimeout time.Duration) error {
	e := New(deps)

	errs := make(chan error, 1)
	go func() {
		log.Info("api listening", "port", port)
		errs <- e.Start(fmt.Sprintf(":%v", port))
	}()

	select {
	case err := <-errs:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if deps.Gateway != nil {
		deps.Gateway.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("api shutdown failure", "error", err)
		return err
	}
	return nil
}
