package config

import (
	"fmt"
	"os"
	"strconv"

	"mailsift_server/pkg/apperr"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	FrontendURL string

	// Database
	DatabaseURL string

	// Token vault
	EncryptionKey string

	// OAuth - Gmail
	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string

	// Push notifications
	GoogleProjectID string
	PubSubTopic     string

	// OCR + blob staging
	AWSRegion          string
	S3Bucket           string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// Queue substrate
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Worker
	WorkerID              string
	UseQueue              bool
	EmailConcurrency      int
	AttachmentConcurrency int

	// Observability
	PrometheusPort    string
	WorkerMetricsPort string
	OTLPEndpoint      string
	EnableTracing     bool
	LogLevel          string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("BACKEND_PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", ""),

		GoogleProjectID: getEnv("GOOGLE_CLOUD_PROJECT_ID", ""),
		PubSubTopic:     getEnv("PUBSUB_TOPIC_NAME", "gmail-notifications"),

		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		S3Bucket:           getEnv("AWS_S3_BUCKET", ""),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		WorkerID:              getEnv("WORKER_ID", generateWorkerID()),
		UseQueue:              getEnvBool("USE_QUEUE", true),
		EmailConcurrency:      getEnvInt("EMAIL_WORKER_CONCURRENCY", 2),
		AttachmentConcurrency: getEnvInt("ATTACHMENT_WORKER_CONCURRENCY", 3),

		PrometheusPort:    getEnv("PROMETHEUS_PORT", "9090"),
		WorkerMetricsPort: getEnv("WORKER_METRICS_PORT", "9091"),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		EnableTracing:     getEnvBool("ENABLE_TRACING", false),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects configurations the service cannot run with. Key length
// is checked here so a bad deployment dies at startup, not at first use.
func (c *Config) validate() error {
	if len(c.EncryptionKey) != 32 {
		return apperr.ConfigError(fmt.Sprintf(
			"ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey)))
	}
	if c.DatabaseURL == "" {
		return apperr.ConfigError("DATABASE_URL is required")
	}
	if c.EmailConcurrency < 1 {
		c.EmailConcurrency = 1
	}
	if c.AttachmentConcurrency < 1 {
		c.AttachmentConcurrency = 1
	}
	return nil
}

// RedisAddr joins host and port for the go-redis client.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
