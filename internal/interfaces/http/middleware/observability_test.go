package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func setupTracing(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := map[attribute.Key]string{}
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestTracing_AnnotatesServerSpan(t *testing.T) {
	sr := setupTracing(t)

	r := gin.New()
	r.Use(RequestID(), Tracing(TracingConfig{ServiceName: "reconciler", Enabled: true}), SpanAnnotator())
	r.GET("/orders/:platform/:external_id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/stock/:sku", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/orders/TAOBAO/1001", nil)
	req.Header.Set(RequestIDHeader, "req-9")
	serve(r, req)
	serve(r, httptest.NewRequest(http.MethodGet, "/stock/SKU-1", nil))

	spans := sr.Ended()
	require.Len(t, spans, 2)

	attrs := spanAttrs(spans[0])
	assert.Equal(t, "req-9", attrs["request_id"])
	assert.Equal(t, "TAOBAO", attrs["platform"])
	assert.Equal(t, "1001", attrs["order_id"])
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	assert.Equal(t, "SKU-1", spanAttrs(spans[1])["sku"])
	assert.NotEqual(t, codes.Error, spans[1].Status().Code)
}

func TestTracing_Disabled(t *testing.T) {
	sr := setupTracing(t)

	r := gin.New()
	r.Use(Tracing(TracingConfig{}), SpanAnnotator())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	assert.Empty(t, sr.Ended())
}

func TestHTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	r := gin.New()
	r.Use(HTTPMetrics(mp.Meter("http.server"), zap.NewNop()))
	r.GET("/stock/:sku", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, httptest.NewRequest(http.MethodGet, "/stock/A", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/stock/B", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	routes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http_server_request_total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				route, _ := dp.Attributes.Value("http_route")
				routes[route.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"/stock/:sku": 2, "unknown": 1}, routes)
}
