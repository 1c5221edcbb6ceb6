package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/escrowd/internal/observability/logger"
	"github.com/smallbiznis/escrowd/internal/observability/metrics"
	"github.com/smallbiznis/escrowd/internal/observability/tracing"
	"github.com/smallbiznis/escrowd/pkg/telemetry"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the logger, the tracer and meter providers, and the
// prometheus instruments served on /metrics.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.SchedulerWithConfig,
		func() *telemetry.Metrics { return telemetry.NewMetrics(prometheus.DefaultRegisterer) },
	),
	// Nothing else depends on the tracer provider; force its construction so
	// the global provider is set before the first request.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		Debug:               c.Debug(),
		SampleInfo:          c.LogSampleInfo,
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
