// Package config handles application configuration from environment variables
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"
	Version   string

	// BaseURL is the public URL of this service; the gateway calls back on it.
	BaseURL string

	// Database (optional, in-memory stores when empty)
	DatabaseURL string

	// OTLPEndpoint enables tracing when set.
	OTLPEndpoint string

	// Paybox acquirer seeded at startup
	AcquirerID        string
	AcquirerName      string
	PayboxEnvironment string // "test" or "prod"
	PayboxSite        string
	PayboxRank        string
	PayboxID          string
	PayboxActionURL   string
	PayboxTestURL     string
	PayboxHMACKey     string
	PayboxTestHMACKey string
	PayboxPublicKey   string // base64 PEM or DER
	Currency          string

	// API access
	APIKey      string // imported as a key of the seeded acquirer
	CORSOrigins []string

	// Rate limiting
	RateLimitRPM   int
	RateLimitBurst int

	// Webhooks
	WebhookTimeout      time.Duration
	WebhookAllowPrivate bool

	ShutdownTimeout time.Duration
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultBaseURL        = "http://localhost:8080"
	DefaultAcquirerID     = "default"
	DefaultCurrency       = "978"
	DefaultRateLimitRPM   = 120
	DefaultRateLimitBurst = 20
	DefaultWebhookTimeout = 10 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)
	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 env,
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		Version:             getEnv("VERSION", "dev"),
		BaseURL:             strings.TrimRight(getEnv("BASE_URL", DefaultBaseURL), "/"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AcquirerID:          getEnv("PAYBOX_ACQUIRER_ID", DefaultAcquirerID),
		AcquirerName:        os.Getenv("PAYBOX_ACQUIRER_NAME"),
		PayboxEnvironment:   getEnv("PAYBOX_ENVIRONMENT", "test"),
		PayboxSite:          os.Getenv("PAYBOX_SITE"),
		PayboxRank:          os.Getenv("PAYBOX_RANK"),
		PayboxID:            os.Getenv("PAYBOX_ID"),
		PayboxActionURL:     os.Getenv("PAYBOX_ACTION_URL"),
		PayboxTestURL:       os.Getenv("PAYBOX_TEST_ACTION_URL"),
		PayboxHMACKey:       os.Getenv("PAYBOX_HMAC_KEY"),
		PayboxTestHMACKey:   os.Getenv("PAYBOX_TEST_HMAC_KEY"),
		PayboxPublicKey:     os.Getenv("PAYBOX_PUBLIC_KEY"),
		Currency:            getEnv("PAYBOX_CURRENCY", DefaultCurrency),
		APIKey:              os.Getenv("API_KEY"),
		CORSOrigins:         getEnvList("CORS_ORIGINS"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:      int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		WebhookTimeout:      getEnvDuration("WEBHOOK_TIMEOUT", DefaultWebhookTimeout),
		WebhookAllowPrivate: getEnvBool("WEBHOOK_ALLOW_PRIVATE", env == DefaultEnv),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, staging or production")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute http(s) URL")
	}
	if c.IsProduction() && u.Scheme != "https" {
		return fmt.Errorf("BASE_URL must use https in production")
	}

	var missing []string
	for _, v := range []struct{ key, value string }{
		{"PAYBOX_SITE", c.PayboxSite},
		{"PAYBOX_RANK", c.PayboxRank},
		{"PAYBOX_ID", c.PayboxID},
		{"PAYBOX_PUBLIC_KEY", c.PayboxPublicKey},
	} {
		if v.value == "" {
			missing = append(missing, v.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s required", strings.Join(missing, ", "))
	}

	switch c.PayboxEnvironment {
	case "prod":
		if err := checkHexKey("PAYBOX_HMAC_KEY", c.PayboxHMACKey); err != nil {
			return err
		}
	case "test":
		if err := checkHexKey("PAYBOX_TEST_HMAC_KEY", c.PayboxTestHMACKey); err != nil {
			return err
		}
	default:
		return fmt.Errorf("PAYBOX_ENVIRONMENT must be test or prod")
	}

	if len(c.Currency) != 3 {
		return fmt.Errorf("PAYBOX_CURRENCY must be a 3-digit ISO 4217 code")
	}
	if _, err := strconv.Atoi(c.Currency); err != nil {
		return fmt.Errorf("PAYBOX_CURRENCY must be a 3-digit ISO 4217 code")
	}

	if c.IsProduction() && c.APIKey == "" {
		return fmt.Errorf("API_KEY is required in production")
	}
	return nil
}

func checkHexKey(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if _, err := hex.DecodeString(value); err != nil {
		return fmt.Errorf("%s must be hex encoded", name)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
