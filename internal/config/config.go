package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the process configuration and the hot-reloadable payout policy.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint  string
	SnowflakeNode int64

	// Currency is the single settlement currency accepted by the engine.
	Currency string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	TxTimeout    time.Duration
	TxMaxRetries int

	PolicyPath string

	Observability ObservabilityConfig

	Gateway   GatewayConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Export    ExportConfig
	Scheduler SchedulerConfig
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
	// LogSampleInfo samples info and debug lines under load. Warnings and
	// errors are always written.
	LogSampleInfo bool

	OtelEnabled       bool
	OtelProtocol      string
	OtelSamplingRatio float64
}

type GatewayConfig struct {
	StripeAPIKey        string
	StripeAccountID     string
	StripeBaseURL       string
	StripeWebhookSecret string // comma separated during rotation
	AdyenHMACKey        string
	Timeout             time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig bounds webhook ingress per provider. A zero rate disables
// the limiter.
type RateLimitConfig struct {
	WebhookRate  float64
	WebhookBurst int
}

type ExportConfig struct {
	Backend  string
	LocalDir string

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Prefix          string
}

type SchedulerConfig struct {
	Enabled             bool
	InvariantSpec       string
	StaleWebhookSpec    string
	StaleWebhookAge     time.Duration
	JobTimeout          time.Duration
	LockTTL             time.Duration
	InvariantCheckWrite bool
}

const (
	ExportBackendLocal = "local"
	ExportBackendS3    = "s3"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "escrowd"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("DEPLOYMENT_ENV", environment),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),
		Currency:      strings.ToUpper(getenv("SETTLEMENT_CURRENCY", "USD")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "escrowd"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		TxTimeout:    getenvDuration("TX_TIMEOUT", 10*time.Second),
		TxMaxRetries: getenvInt("TX_MAX_RETRIES", 3),

		PolicyPath: strings.TrimSpace(getenv("POLICY_PATH", "")),

		Observability: ObservabilityConfig{
			LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			LogSampleInfo:     getenvBool("LOG_SAMPLE_INFO", true),
			OtelEnabled:       getenvBool("OTEL_ENABLED", true),
			OtelProtocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		Gateway: GatewayConfig{
			StripeAPIKey:        strings.TrimSpace(getenv("STRIPE_API_KEY", "")),
			StripeAccountID:     strings.TrimSpace(getenv("STRIPE_ACCOUNT_ID", "")),
			StripeBaseURL:       strings.TrimSpace(getenv("STRIPE_BASE_URL", "https://api.stripe.com")),
			StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			AdyenHMACKey:        strings.TrimSpace(getenv("ADYEN_HMAC_KEY", "")),
			Timeout:             getenvDuration("GATEWAY_TIMEOUT", 12*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			WebhookRate:  getenvFloat("WEBHOOK_RATE_LIMIT_RPS", 50),
			WebhookBurst: getenvInt("WEBHOOK_RATE_LIMIT_BURST", 100),
		},
		Export: ExportConfig{
			Backend:           strings.ToLower(getenv("EXPORT_BACKEND", ExportBackendLocal)),
			LocalDir:          getenv("EXPORT_LOCAL_DIR", "./var/payout-exports"),
			S3Bucket:          strings.TrimSpace(getenv("EXPORT_S3_BUCKET", "")),
			S3Region:          getenv("EXPORT_S3_REGION", "us-east-1"),
			S3Endpoint:        strings.TrimSpace(getenv("EXPORT_S3_ENDPOINT", "")),
			S3AccessKeyID:     strings.TrimSpace(getenv("EXPORT_S3_ACCESS_KEY_ID", "")),
			S3SecretAccessKey: strings.TrimSpace(getenv("EXPORT_S3_SECRET_ACCESS_KEY", "")),
			S3Prefix:          strings.Trim(getenv("EXPORT_S3_PREFIX", "payout-batches"), "/"),
		},
		Scheduler: SchedulerConfig{
			Enabled:             getenvBool("SCHEDULER_ENABLED", true),
			InvariantSpec:       getenv("SCHEDULER_INVARIANT_SPEC", "@every 5m"),
			StaleWebhookSpec:    getenv("SCHEDULER_STALE_WEBHOOK_SPEC", "@every 10m"),
			StaleWebhookAge:     getenvDuration("SCHEDULER_STALE_WEBHOOK_AGE", 30*time.Minute),
			JobTimeout:          getenvDuration("SCHEDULER_JOB_TIMEOUT", time.Minute),
			LockTTL:             getenvDuration("SCHEDULER_LOCK_TTL", 2*time.Minute),
			InvariantCheckWrite: getenvBool("INVARIANT_CHECK_ON_WRITE", true),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
