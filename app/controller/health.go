package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const healthCheckTimeout = 2 * time.Second

type HealthCheck func(ctx context.Context) error

type HealthController struct {
	checks map[string]HealthCheck
	logger logrus.FieldLogger
}

func NewHealthController(checks map[string]HealthCheck, logger logrus.FieldLogger) *HealthController {
	return &HealthController{checks: checks, logger: logger}
}

func (c *HealthController) Healthz(ctx echo.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx.Request().Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(c.checks))
	for name, check := range c.checks {
		if err := check(checkCtx); err != nil {
			c.logger.WithError(err).WithField("check", name).Warn("Health check failed")
			results[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "up"
	}

	return ctx.JSON(status, results)
}
