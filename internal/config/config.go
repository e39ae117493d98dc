// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server and retry worker.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (rate limiting)
	RedisURL string `koanf:"redis_url"`

	// JWT Authentication. JWTSecretPrevious is set only while a secret
	// rotation is in progress; tokens signed with it stay valid until the
	// rotation window closes.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTSecretPrevious string `koanf:"jwt_secret_previous"`

	// Webhook delivery
	WebhookTimeoutSeconds       int `koanf:"webhook_timeout_seconds"`        // Default: 10
	WebhookRetryIntervalSeconds int `koanf:"webhook_retry_interval_seconds"` // Default: 30

	// CORS. Empty list disables CORS entirely.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Profiling (development only)
	ProfilingEnabled bool `koanf:"profiling_enabled"`

	// OpenTelemetry tracing
	TracingEnabled  bool   `koanf:"tracing_enabled"`
	TracingEndpoint string `koanf:"tracing_endpoint"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                        = 8080
	DefaultEnv                         = "development"
	DefaultWebhookTimeoutSeconds       = 10
	DefaultWebhookRetryIntervalSeconds = 30
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid
	// Try INKMARK_PORT first, then PORT for deploy-platform compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"INKMARK_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	webhookTimeout, timeoutErr := getEnvIntOrDefault("WEBHOOK_TIMEOUT_SECONDS", k.Int("webhook_timeout_seconds"), DefaultWebhookTimeoutSeconds)
	if timeoutErr != nil {
		loadErrs = append(loadErrs, timeoutErr)
	}

	retryInterval, intervalErr := getEnvIntOrDefault("WEBHOOK_RETRY_INTERVAL_SECONDS", k.Int("webhook_retry_interval_seconds"), DefaultWebhookRetryIntervalSeconds)
	if intervalErr != nil {
		loadErrs = append(loadErrs, intervalErr)
	}

	tracingEnabled := getEnvBoolOrDefault("TRACING_ENABLED", k.Bool("tracing_enabled"))
	profilingEnabled := getEnvBoolOrDefault("PROFILING_ENABLED", k.Bool("profiling_enabled"))

	corsOrigins := k.Strings("cors_allowed_origins")
	if val := os.Getenv("CORS_ALLOWED_ORIGINS"); val != "" {
		corsOrigins = nil
		for _, origin := range strings.Split(val, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				corsOrigins = append(corsOrigins, trimmed)
			}
		}
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                        port,
		Env:                         getEnvOrDefaultMulti([]string{"INKMARK_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:                 getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:                    getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:                   getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTSecretPrevious:           getEnvOrKoanf("JWT_SECRET_PREVIOUS", k, "jwt_secret_previous"),
		WebhookTimeoutSeconds:       webhookTimeout,
		WebhookRetryIntervalSeconds: retryInterval,
		CORSAllowedOrigins:          corsOrigins,
		ProfilingEnabled:            profilingEnabled,
		TracingEnabled:              tracingEnabled,
		TracingEndpoint:             getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// GetJWTSecrets returns the current and previous JWT secrets. The previous
// secret is empty unless a rotation is in progress.
func (c *Config) GetJWTSecrets() (current, previous string) {
	return c.JWTSecret, c.JWTSecretPrevious
}

// WebhookTimeout returns the delivery timeout as a duration.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// WebhookRetryInterval returns the retry worker scan interval as a duration.
func (c *Config) WebhookRetryInterval() time.Duration {
	return time.Duration(c.WebhookRetryIntervalSeconds) * time.Second
}

// getEnvBoolOrDefault returns the environment variable as bool if set,
// otherwise the given default. Env vars take precedence over file config.
func getEnvBoolOrDefault(envKey string, defaultVal bool) bool {
	switch strings.ToLower(os.Getenv(envKey)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultVal
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                           fmt.Sprintf("%d", c.Port),
		"env":                            c.Env,
		"database_url":                   maskDatabaseURL(c.DatabaseURL),
		"redis_url":                      maskDatabaseURL(c.RedisURL),
		"jwt_secret":                     maskSecret(c.JWTSecret),
		"jwt_secret_previous":            maskSecret(c.JWTSecretPrevious),
		"webhook_timeout_seconds":        fmt.Sprintf("%d", c.WebhookTimeoutSeconds),
		"webhook_retry_interval_seconds": fmt.Sprintf("%d", c.WebhookRetryIntervalSeconds),
		"cors_allowed_origins":           strings.Join(c.CORSAllowedOrigins, ","),
		"profiling_enabled":              fmt.Sprintf("%t", c.ProfilingEnabled),
		"tracing_enabled":                fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_endpoint":               c.TracingEndpoint,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Supports postgres://, postgresql:// and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
