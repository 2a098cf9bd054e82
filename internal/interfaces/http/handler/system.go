package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erp/reconciler/internal/infrastructure/telemetry"
	"github.com/erp/reconciler/internal/interfaces/http/dto"
)

// HealthCheck probes one dependency
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// SystemHandler serves health, info and the Prometheus scrape endpoint
type SystemHandler struct {
	BaseHandler
	name         string
	startTime    time.Time
	checks       []HealthCheck
	checkTimeout time.Duration
	gatherer     prometheus.Gatherer
}

// NewSystemHandler creates a SystemHandler. gatherer may be nil, in which
// case the default Prometheus registry is served.
func NewSystemHandler(name string, gatherer prometheus.Gatherer, checks ...HealthCheck) *SystemHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &SystemHandler{
		name:         name,
		startTime:    time.Now(),
		checks:       checks,
		checkTimeout: 2 * time.Second,
		gatherer:     gatherer,
	}
}

// HealthResponse reports overall and per dependency status
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health runs every dependency check. Any failure turns the response into
// a 503.
//
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.checkTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[check.Name] = err.Error()
			continue
		}
		resp.Checks[check.Name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.Response{Success: status == http.StatusOK, Data: resp})
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// GetSystemInfo returns version and uptime.
//
// GET /system/info
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:      h.name,
		Version:   telemetry.ServiceVersion,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Metrics serves the Prometheus exposition format.
//
// GET /metrics
func (h *SystemHandler) Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}
