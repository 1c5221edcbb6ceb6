package tracing

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/escrowd/internal/observability/context"
	"github.com/smallbiznis/escrowd/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request. It must run after the
// request logging middleware so the correlation id is already on the context.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("escrowd/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + c.Request.Method + " " + route)
		span.SetAttributes(requestAttributes(c, route, status, time.Since(start))...)

		if status < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			if err := SafeError(last.Err); err != nil {
				span.RecordError(err)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

// requestAttributes reads the final request context, which by now carries the
// admin resolved by the auth middleware.
func requestAttributes(c *gin.Context, route string, status int, elapsed time.Duration) []attribute.KeyValue {
	ctx := c.Request.Context()
	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
		attribute.Int64("http.server_duration_ms", elapsed.Milliseconds()),
	}
	if id := obscontext.RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("request_id", id))
	}
	if id := correlation.ID(ctx); id != "" {
		attrs = append(attrs, attribute.String("correlation_id", id))
	}
	if actorType, actorID := obscontext.ActorFromContext(ctx); actorType != "" {
		attrs = append(attrs,
			attribute.String("escrow.actor_type", actorType),
			attribute.String("escrow.actor_id", actorID),
		)
	}
	if provider := c.Param("provider"); provider != "" {
		attrs = append(attrs, attribute.String("webhook.provider", provider))
	}
	if status == http.StatusServiceUnavailable {
		attrs = append(attrs, attribute.Bool("escrow.retryable", true))
	}
	return SafeAttributes(attrs...)
}
