package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a dependency the readiness check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// SchemaReporter reports the record schema version in use.
type SchemaReporter interface {
	SchemaVersion(ctx context.Context) (int, error)
}

type SystemHandler struct {
	checks map[string]Pinger
	schema SchemaReporter
}

// NewSystemHandler probes every named dependency on /readyz. Optional
// dependencies that are not configured are simply left out.
func NewSystemHandler(checks map[string]Pinger, schema SchemaReporter) *SystemHandler {
	return &SystemHandler{checks: checks, schema: schema}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	resp := gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	}
	if h.schema != nil {
		if v, err := h.schema.SchemaVersion(ctx); err == nil {
			resp["schema_version"] = v
		}
	}
	c.JSON(status, resp)
}
