package http

import (
	"context"
	"net/http"
	"time"

	"crosspost/infrastructure/logger"

	"github.com/gin-gonic/gin"
)

// Check reports whether one backing dependency answers.
type Check func(ctx context.Context) error

type IHealthHandler interface {
	Healthz(c *gin.Context)
}

type HealthHandler struct {
	checks map[string]Check
}

// NewHealthHandler accepts nil checks for dependencies not configured.
func NewHealthHandler(checks map[string]Check) IHealthHandler {
	active := make(map[string]Check, len(checks))
	for name, check := range checks {
		if check != nil {
			active[name] = check
		}
	}
	return &HealthHandler{checks: active}
}

// Healthz returns 503 when any configured dependency fails its check.
func (h *HealthHandler) Healthz(ctx *gin.Context) {
	c, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(c); err != nil {
			logger.GetLogger().WithField("dependency", name).WithField("error", err).Warn("health check failed")
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	ctx.JSON(status, gin.H{"status": state, "dependencies": deps})
}
