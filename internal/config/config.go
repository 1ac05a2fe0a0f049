package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration, loaded once in main and injected into
// every component that needs it. Components never read the environment
// themselves.
type Config struct {
	Env  string `envconfig:"ENV" default:"production"`
	Port string `envconfig:"PORT" default:"8080"`

	// Database
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"covertext"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBTimezone string `envconfig:"DB_TIMEZONE" default:"UTC"`

	// Auth
	JWTSecret          string        `envconfig:"JWT_SECRET" required:"true"`
	JWTAccessDuration  time.Duration `envconfig:"JWT_ACCESS_DURATION" default:"15m"`
	JWTRefreshDuration time.Duration `envconfig:"JWT_REFRESH_DURATION" default:"24h"`

	// SMS provider
	TelnyxBaseURL     string        `envconfig:"TELNYX_BASE_URL" default:"https://api.telnyx.com/v2"`
	TelnyxAPIKey      string        `envconfig:"TELNYX_API_KEY"`
	TelnyxSendTimeout time.Duration `envconfig:"TELNYX_SEND_TIMEOUT" default:"15s"`

	// LLM reply generation
	OpenAIAPIKey string        `envconfig:"OPENAI_API_KEY"`
	LLMTimeout   time.Duration `envconfig:"LLM_TIMEOUT" default:"20s"`

	// Usage metering
	BillingBaseURL string `envconfig:"BILLING_BASE_URL"`
	BillingAPIKey  string `envconfig:"BILLING_API_KEY"`
	BillingMeterID string `envconfig:"BILLING_METER_ID" default:"sms_overage"`

	// Cron dispatch endpoints
	CronSecret string `envconfig:"CRON_SECRET" required:"true"`

	// Tracing (disabled unless an endpoint is set)
	OTLPEndpoint   string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName    string `envconfig:"OTEL_SERVICE_NAME" default:"covertext-api"`
	ServiceVersion string `envconfig:"OTEL_SERVICE_VERSION"`

	// Policy packet document storage
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3PublicURL string `envconfig:"S3_PUBLIC_URL"`
}

// Load reads .env (when present) and the environment into a Config.
func Load() (*Config, error) {
	godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}

// DatabaseDSN renders the postgres connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode, c.DBTimezone,
	)
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
