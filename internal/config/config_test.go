package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/remediation-agent/internal/payment"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultCycleIntervalSeconds*time.Second, cfg.CycleInterval)
	assert.Equal(t, DefaultWindowSizeSeconds*time.Second, cfg.WindowSize)
	assert.Equal(t, payment.AuthorizationLevel(""), cfg.ApprovalMode)
	assert.Equal(t, 50, cfg.SafetyActionsPerHour)
	assert.Equal(t, 0.6, cfg.MinActionConfidence)
	assert.Equal(t, 0.5, cfg.MinActionScore)
}

func TestLoadWithOverrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "CYCLE_INTERVAL_SECONDS", "15")
	setEnv(t, "APPROVAL_MODE", "manual")
	setEnv(t, "SAFETY_ACTIONS_PER_HOUR", "10")
	setEnv(t, "MIN_ACTION_CONFIDENCE", "0.8")
	setEnv(t, "MIN_ACTION_SCORE", "0.7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.CycleInterval)
	assert.Equal(t, payment.AuthManual, cfg.ApprovalMode)
	assert.Equal(t, 10, cfg.SafetyActionsPerHour)
	assert.Equal(t, 0.8, cfg.MinActionConfidence)
	assert.Equal(t, 0.7, cfg.MinActionScore)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:                             DefaultPort,
			CycleInterval:                    30 * time.Second,
			WindowSize:                       600 * time.Second,
			SafetyActionsPerHour:             50,
			SafetyRollbacksPerHour:           10,
			SafetyMaxConcurrentInterventions: 5,
			MinActionConfidence:              0.6,
			MinActionScore:                   0.5,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Port = "not-a-port" },
			wantErr: "PORT must be",
		},
		{
			name:    "zero cycle interval",
			mutate:  func(c *Config) { c.CycleInterval = 0 },
			wantErr: "CYCLE_INTERVAL_SECONDS must be positive",
		},
		{
			name:    "zero window size",
			mutate:  func(c *Config) { c.WindowSize = 0 },
			wantErr: "OBSERVER_WINDOW_SECONDS must be positive",
		},
		{
			name:    "invalid approval mode",
			mutate:  func(c *Config) { c.ApprovalMode = "yolo" },
			wantErr: "APPROVAL_MODE must be one of",
		},
		{
			name:    "zero actions per hour",
			mutate:  func(c *Config) { c.SafetyActionsPerHour = 0 },
			wantErr: "SAFETY_ACTIONS_PER_HOUR must be at least 1",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.MinActionConfidence = 1.5 },
			wantErr: "MIN_ACTION_CONFIDENCE must be between 0 and 1",
		},
		{
			name:    "score out of range",
			mutate:  func(c *Config) { c.MinActionScore = -0.1 },
			wantErr: "MIN_ACTION_SCORE must be between 0 and 1",
		},
		{
			name: "write timeout below request timeout",
			mutate: func(c *Config) {
				c.HTTPWriteTimeout = 1 * time.Second
				c.RequestTimeout = 5 * time.Second
			},
			wantErr: "HTTP_WRITE_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfigIsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_SECONDS", "45")
	setEnv(t, "TEST_DURATION_STRING", "2m")

	assert.Equal(t, 45*time.Second, getEnvDuration("TEST_SECONDS", 0))
	assert.Equal(t, 2*time.Minute, getEnvDuration("TEST_DURATION_STRING", 0))
	assert.Equal(t, 10*time.Second, getEnvDuration("NONEXISTENT_VAR", 10*time.Second))
}
