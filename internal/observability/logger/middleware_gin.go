package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/escrowd/internal/observability/context"
	"github.com/smallbiznis/escrowd/pkg/telemetry"
	"github.com/smallbiznis/escrowd/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-ID"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
	Metrics         *telemetry.Metrics
}

// GinMiddleware binds request and correlation ids to the request context,
// echoes both on the response and writes one access log line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := headerOr(c, requestIDHeader, uuid.NewString)
		correlationID := correlation.Normalize(c.GetHeader(correlation.Header))
		if correlationID == "" {
			correlationID = correlation.New()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)
		c.Header(correlation.Header, correlationID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = correlation.WithID(ctx, correlationID)
		ctx = obscontext.WithIPAddress(ctx, c.ClientIP())
		ctx = obscontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		cfg.Metrics.ObserveAPIRequest(c.Request.Method, route, status, elapsed)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if provider := c.Param("provider"); provider != "" {
			fields = append(fields, zap.String("provider", provider))
		}
		if last := c.Errors.Last(); last != nil && cfg.ErrorClassifier != nil {
			errType, errCode := cfg.ErrorClassifier(last.Err)
			fields = append(fields, zap.String("error_type", errType), zap.String("error_code", errCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		if ce := FromContext(c.Request.Context()).Check(accessLevel(route, status), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

// accessLevel keeps probes quiet and surfaces rejected money movements
// (state conflicts, liquidity, throttling) above routine traffic.
func accessLevel(route string, status int) zapcore.Level {
	switch {
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status == http.StatusConflict,
		status == http.StatusUnprocessableEntity,
		status == http.StatusTooManyRequests:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func headerOr(c *gin.Context, name string, fallback func() string) string {
	if v := strings.TrimSpace(c.GetHeader(name)); v != "" && len(v) <= 128 {
		return v
	}
	return fallback()
}
