package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "sk_test_123")
	setEnv(t, "ENV", "staging")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, int64(DefaultPlatformFeeBps), cfg.PlatformFeeBps)
	assert.Equal(t, int64(DefaultInstantPayoutFeeBps), cfg.InstantPayoutFeeBps)
}

func TestLoad_MissingStripeKey(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				StripeSecretKey:     "sk_test_123",
				DBStatementTimeout:  30000,
				InstantPayoutFeeBps: 150,
			},
			wantErr: "",
		},
		{
			name: "missing stripe key",
			config: Config{
				StripeSecretKey:    "",
				DBStatementTimeout: 30000,
			},
			wantErr: "STRIPE_SECRET_KEY is required",
		},
		{
			name: "platform fee out of range",
			config: Config{
				StripeSecretKey:    "sk_test_123",
				PlatformFeeBps:     20000,
				DBStatementTimeout: 30000,
			},
			wantErr: "PLATFORM_FEE_BPS",
		},
		{
			name: "statement timeout too low",
			config: Config{
				StripeSecretKey:    "sk_test_123",
				DBStatementTimeout: 10,
			},
			wantErr: "POSTGRES_STATEMENT_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
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
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99))
}
