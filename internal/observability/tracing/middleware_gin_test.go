package tracing_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/escrowd/internal/observability/context"
	"github.com/smallbiznis/escrowd/internal/observability/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func TestGinMiddlewareTagsActorAndProvider(t *testing.T) {
	recorder := recordSpans(t)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(tracing.GinMiddleware())
	r.POST("/payments/webhooks/:provider", func(c *gin.Context) {
		ctx := obscontext.WithActor(c.Request.Context(), obscontext.ActorTypeAdmin, "admin-3")
		c.Request = c.Request.WithContext(ctx)
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/payments/webhooks/adyen", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP POST /payments/webhooks/:provider", spans[0].Name())
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "adyen", attrs["webhook.provider"].AsString())
	assert.Equal(t, "admin-3", attrs["escrow.actor_id"].AsString())
	assert.Equal(t, int64(200), attrs["http.status_code"].AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestGinMiddlewareMarksRetryableFailure(t *testing.T) {
	recorder := recordSpans(t)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(tracing.GinMiddleware())
	r.POST("/admin/payout-batches/:id/execute", func(c *gin.Context) {
		_ = c.Error(errors.New("could not serialize access"))
		c.Status(http.StatusServiceUnavailable)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/admin/payout-batches/9/execute", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := attrMap(spans[0].Attributes())
	assert.True(t, attrs["escrow.retryable"].AsBool())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.Len(t, spans[0].Events(), 1)
}
