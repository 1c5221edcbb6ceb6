package observability

import (
	"strings"

	"github.com/smallbiznis/escrowd/internal/config"
)

// Config is the slice of application config the observability stack needs.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel      string
	LogFormat     string
	LogSampleInfo bool

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "escrowd"
	}
	obs := cfg.Observability

	ratio := obs.OtelSamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}
	// A zero ratio in production would drop every trace.
	if cfg.IsProduction() && ratio == 0 {
		ratio = 0.1
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             obs.LogLevel,
		LogFormat:            obs.LogFormat,
		LogSampleInfo:        obs.LogSampleInfo,
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: obs.OtelProtocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug is on for dev and test environments or an explicit debug level.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
