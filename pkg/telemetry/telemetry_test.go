package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	tel, err := Init(context.Background(), &Config{Enabled: false, ServiceName: "ticket-registry"})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if tel == nil {
		t.Fatal("Expected telemetry instance")
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	SetSpanError(ctx, errors.New("boom"))
}

func TestNewCounter_NoopProvider(t *testing.T) {
	c, err := NewCounter(MetricOpts{Name: "registry_test_total", Description: "test", Unit: "1"})
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}
	c.Inc(context.Background())
	c.Add(context.Background(), 2)

	h, err := NewHistogramWithBuckets(MetricOpts{Name: "registry_test_seconds", Unit: "s"}, []float64{0.1, 1})
	if err != nil {
		t.Fatalf("NewHistogramWithBuckets failed: %v", err)
	}
	h.Record(context.Background(), 0.1)

	g, err := NewUpDownCounter(MetricOpts{Name: "registry_test_pending", Unit: "1"})
	if err != nil {
		t.Fatalf("NewUpDownCounter failed: %v", err)
	}
	g.Inc(context.Background())
	g.Dec(context.Background())
}

func TestTracingMiddleware_RecordsServerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(prev)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TracingMiddleware("ticket-registry"))
	router.GET("/tickets/:id", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tickets/7", nil))

	if w.Header().Get(TraceIDHeader) == "" {
		t.Error("Expected trace id header")
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "GET /tickets/:id" {
		t.Errorf("Unexpected span name %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("Expected error status for 5xx, got %v", spans[0].Status().Code)
	}
}
