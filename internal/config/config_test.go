package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:              "production",
		Port:             "8080",
		JWTSecret:        "secure-secret-at-least-32-chars-long",
		DBDriver:         DriverPostgres,
		DBPassword:       "secure-password",
		DBSSLMode:        "require",
		FeedDefaultLimit: 20,
		FeedMaxLimit:     100,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"valid production", func(*Config) {}, false},
		{"production with ssl disabled", func(c *Config) { c.DBSSLMode = "disable" }, true},
		{"production with empty ssl mode", func(c *Config) { c.DBSSLMode = "" }, true},
		{"production with default secret", func(c *Config) { c.JWTSecret = defaultJWTSecret }, true},
		{"production with short secret", func(c *Config) { c.JWTSecret = "short" }, true},
		{"production with memory store", func(c *Config) { c.DBDriver = DriverMemory }, true},
		{"production mongo ignores ssl mode", func(c *Config) { c.DBDriver = DriverMongo; c.DBSSLMode = "" }, false},
		{"development with ssl disabled", func(c *Config) { c.Env = "development"; c.DBSSLMode = "disable" }, false},
		{"unknown driver", func(c *Config) { c.DBDriver = "cassandra" }, true},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"negative depth", func(c *Config) { c.FeedMaxRepostDepth = -1 }, true},
		{"default limit above max", func(c *Config) { c.FeedDefaultLimit = 500 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_EnvironmentOverridesDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Setenv("APP_ENV", "test")
	t.Setenv("DB_DRIVER", "  SQLITE ")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("FEED_MAX_REPOST_DEPTH", "2")
	t.Setenv("FEED_CONCURRENCY", "1")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "disable", cfg.DBSSLMode)
	assert.Equal(t, 2, cfg.FeedMaxRepostDepth)
	assert.Equal(t, 1, cfg.FeedConcurrency)
	assert.Equal(t, 5, cfg.FeedLikersPreview)
	assert.Equal(t, 20, cfg.FeedDefaultLimit)
	assert.True(t, cfg.IsRelaxed())
	assert.False(t, cfg.IsProduction())
}
