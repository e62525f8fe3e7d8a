// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/remediation-agent/internal/payment"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database (optional; internal/audit falls back to in-memory if unset)
	DatabaseURL string

	// Control loop cadence (spec.md §2, §5)
	CycleInterval time.Duration // CYCLE_INTERVAL_SECONDS
	WindowSize    time.Duration // OBSERVER_WINDOW_SECONDS, the Observer's rolling window

	// ApprovalMode, when set, overrides every action's computed
	// AuthorizationLevel instead of the risk/traffic-driven escalation
	// in agentstate.EscalateAuthorization (spec.md §4.6).
	ApprovalMode payment.AuthorizationLevel

	// Safety gate limits (spec.md §4.6)
	SafetyActionsPerHour             int
	SafetyRollbacksPerHour           int
	SafetyHighRiskRollbackCap        int
	SafetyMaxConcurrentInterventions int
	MinActionConfidence              float64
	MinActionScore                   float64

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RequestTimeout   time.Duration

	// Observability
	OTLPEndpoint string // OpenTelemetry collector endpoint, empty = disabled
	MetricsPort  string
}

const (
	DefaultPort     = "8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"

	DefaultCycleIntervalSeconds = 30
	DefaultWindowSizeSeconds    = 600

	// HTTP server timeout defaults
	DefaultHTTPReadTimeout  = 10 * time.Second
	DefaultHTTPWriteTimeout = 30 * time.Second
	DefaultHTTPIdleTimeout  = 60 * time.Second
	DefaultRequestTimeout   = 30 * time.Second

	DefaultMetricsPort = "9090"
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", DefaultPort),
		Env:         getEnv("ENV", DefaultEnv),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		CycleInterval: getEnvDuration("CYCLE_INTERVAL_SECONDS", DefaultCycleIntervalSeconds*time.Second),
		WindowSize:    getEnvDuration("OBSERVER_WINDOW_SECONDS", DefaultWindowSizeSeconds*time.Second),

		ApprovalMode: payment.AuthorizationLevel(os.Getenv("APPROVAL_MODE")),

		SafetyActionsPerHour:             int(getEnvInt64("SAFETY_ACTIONS_PER_HOUR", 50)),
		SafetyRollbacksPerHour:           int(getEnvInt64("SAFETY_ROLLBACKS_PER_HOUR", 10)),
		SafetyHighRiskRollbackCap:        int(getEnvInt64("SAFETY_HIGH_RISK_ROLLBACK_CAP", 3)),
		SafetyMaxConcurrentInterventions: int(getEnvInt64("SAFETY_MAX_CONCURRENT_INTERVENTIONS", 5)),
		MinActionConfidence:              getEnvFloat("MIN_ACTION_CONFIDENCE", 0.6),
		MinActionScore:                   getEnvFloat("MIN_ACTION_SCORE", 0.5),

		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", DefaultHTTPReadTimeout),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", DefaultHTTPWriteTimeout),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", DefaultHTTPIdleTimeout),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MetricsPort:  getEnv("METRICS_PORT", DefaultMetricsPort),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are within sane bounds.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	if c.CycleInterval <= 0 {
		return fmt.Errorf("CYCLE_INTERVAL_SECONDS must be positive, got %v", c.CycleInterval)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("OBSERVER_WINDOW_SECONDS must be positive, got %v", c.WindowSize)
	}

	switch c.ApprovalMode {
	case "", payment.AuthAutomatic, payment.AuthSemiAutomatic, payment.AuthManual:
	default:
		return fmt.Errorf("APPROVAL_MODE must be one of automatic, semi_automatic, manual, or unset, got %q", c.ApprovalMode)
	}

	if c.SafetyActionsPerHour < 1 {
		return fmt.Errorf("SAFETY_ACTIONS_PER_HOUR must be at least 1, got %d", c.SafetyActionsPerHour)
	}
	if c.SafetyRollbacksPerHour < 1 {
		return fmt.Errorf("SAFETY_ROLLBACKS_PER_HOUR must be at least 1, got %d", c.SafetyRollbacksPerHour)
	}
	if c.SafetyMaxConcurrentInterventions < 1 {
		return fmt.Errorf("SAFETY_MAX_CONCURRENT_INTERVENTIONS must be at least 1, got %d", c.SafetyMaxConcurrentInterventions)
	}
	if c.MinActionConfidence < 0 || c.MinActionConfidence > 1 {
		return fmt.Errorf("MIN_ACTION_CONFIDENCE must be between 0 and 1, got %f", c.MinActionConfidence)
	}
	if c.MinActionScore < 0 || c.MinActionScore > 1 {
		return fmt.Errorf("MIN_ACTION_SCORE must be between 0 and 1, got %f", c.MinActionScore)
	}

	if c.HTTPWriteTimeout > 0 && c.RequestTimeout > 0 && c.HTTPWriteTimeout < c.RequestTimeout {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT (%v) must be >= REQUEST_TIMEOUT (%v)", c.HTTPWriteTimeout, c.RequestTimeout)
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration reads key as a bare integer count of seconds (matching
// spec.md's *_SECONDS env var naming) and falls back to defaultValue when
// unset or unparsable as either a bare integer or a Go duration string.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
