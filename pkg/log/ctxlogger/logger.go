package ctxlogger

import (
	"context"
	"sync/atomic"

	"github.com/smallbiznis/escrowd/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type operationKey struct{}

var serviceName atomic.Pointer[string]

// SetServiceName configures the service name added to every log entry.
func SetServiceName(name string) {
	serviceName.Store(&name)
}

// ContextWithOperation names the unit of work (a scheduler job, a webhook
// provider) so every log line emitted under ctx carries it.
func ContextWithOperation(ctx context.Context, operation string) context.Context {
	if operation == "" {
		return ctx
	}
	return context.WithValue(ctx, operationKey{}, operation)
}

// FromContext is WithContext over the global logger.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext binds the service name plus whatever correlation, trace and
// operation identifiers ctx carries. Absent identifiers are omitted rather
// than logged empty.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil {
		return base
	}

	name := "unknown"
	if p := serviceName.Load(); p != nil {
		name = *p
	}

	fields := []zap.Field{zap.String("service", name)}
	fields = append(fields, Correlation(ctx))
	fields = append(fields, Trace(ctx)...)
	if operation, ok := ctx.Value(operationKey{}).(string); ok && operation != "" {
		fields = append(fields, zap.String("operation", operation))
	}
	return base.With(fields...)
}

// Correlation returns the correlation_id field, or a no-op field when ctx has none.
func Correlation(ctx context.Context) zap.Field {
	id := correlation.ID(ctx)
	if id == "" {
		return zap.Skip()
	}
	return zap.String("correlation_id", id)
}

// Trace returns trace_id and span_id for a recording span context.
func Trace(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
