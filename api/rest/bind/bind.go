package bind

import (
	"github.com/labstack/echo/v4"
	"github.com/visionml/trainer/api/rest/controller/job"
)

func All(g *echo.Group, jobs *job.Controller) {
	Jobs(g, jobs)
}

func Jobs(g *echo.Group, ctrl *job.Controller) {
	g.GET("/jobs", ctrl.List)
	g.POST("/jobs", ctrl.Post)
	g.GET("/jobs/:id", ctrl.Get)
	g.GET("/jobs/:id/logs", ctrl.Logs)
	g.POST("/jobs/:id/logs", ctrl.PublishLogs)
}
