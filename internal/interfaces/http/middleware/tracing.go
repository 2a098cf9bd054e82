package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erp/reconciler/internal/infrastructure/telemetry"
)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// Tracing returns the otelgin server span middleware, or a pass-through
// when tracing is off.
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return otelgin.Middleware(cfg.ServiceName)
}

// SpanAnnotator tags the server span with the request id and, for routes
// that carry them, the platform, order id and SKU path parameters.
// Responses of 400 and above mark the span as failed. It must run after
// Tracing.
func SpanAnnotator() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			c.Next()
			return
		}

		if id := GetRequestID(c); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
		}
		if platform := c.Param("platform"); platform != "" {
			span.SetAttributes(attribute.String(telemetry.SpanAttrPlatform, platform))
		}
		if orderID := c.Param("external_id"); orderID != "" {
			span.SetAttributes(attribute.String(telemetry.SpanAttrOrderID, orderID))
		}
		if sku := c.Param("sku"); sku != "" {
			span.SetAttributes(attribute.String(telemetry.SpanAttrSKU, sku))
		}

		c.Next()

		if status := c.Writer.Status(); status >= http.StatusBadRequest {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
