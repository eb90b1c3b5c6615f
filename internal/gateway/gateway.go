// Package gateway streams live job log lines to WebSocket clients.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/visionml/trainer/internal/logchan"
	"github.com/visionml/trainer/pkg/log"
)

const writeWait = 10 * time.Second

// Gateway upgrades log stream requests and runs one session per connection.
type Gateway struct {
	channel      logchan.Channel
	upgrader     websocket.Upgrader
	pingInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway over channel. Every connection opens its own
// subscription.
func New(channel logchan.Channel, pingInterval time.Duration) *Gateway {
	if channel == nil {
		panic("gateway requires a log channel")
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		channel: channel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingInterval: pingInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Bind registers the stream routes.
func (g *Gateway) Bind(e *echo.Echo) {
	e.GET("/logs/:jobId", g.Stream)
	e.GET("/ws/logs/:jobId", g.Stream)
}

// Stream serves one client for the job in the path.
func (g *Gateway) Stream(c echo.Context) error {
	jobID := strings.TrimSpace(c.Param("jobId"))
	if jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}

	sub, err := g.channel.Subscribe(c.Request().Context())
	if err != nil {
		log.Error("log stream subscribe failed", "job_id", jobID, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "log channel unavailable").SetInternal(err)
	}

	conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered the client
		if cerr := sub.Close(); cerr != nil {
			log.Warn("close log subscription", "job_id", jobID, "error", cerr)
		}
		log.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return nil
	}

	s := newSession(g.ctx, jobID, conn, sub, g.pingInterval)
	defer s.release()

	s.serve()
	return nil
}

// Shutdown ends every open session.
func (g *Gateway) Shutdown() {
	g.cancel()
}
