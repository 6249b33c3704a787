package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                "8375",
		Env:                 "development",
		QuotaStore:          "redis",
		QuotaPerClientDaily: 3,
		QuotaGlobalDaily:    50,
		QuotaFailPolicy:     "open",
		QuotaTimezone:       "America/New_York",
		StoreDriver:         "sqlite",
		StoreMaxRetries:     5,
		BaselineDate:        "2025-09-25",
		CronSecret:          defaultCronSecret,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"defaults are valid", func(_ *Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"zero per-client quota", func(c *Config) { c.QuotaPerClientDaily = 0 }, true},
		{"unknown fail policy", func(c *Config) { c.QuotaFailPolicy = "sometimes" }, true},
		{"closed fail policy", func(c *Config) { c.QuotaFailPolicy = "closed" }, false},
		{"unknown quota store", func(c *Config) { c.QuotaStore = "etcd" }, true},
		{"unknown timezone", func(c *Config) { c.QuotaTimezone = "Mars/Olympus" }, true},
		{"bad baseline", func(c *Config) { c.BaselineDate = "25/09/2025" }, true},
		{"no retries", func(c *Config) { c.StoreMaxRetries = 0 }, true},
		{"unknown store driver", func(c *Config) { c.StoreDriver = "dropbox" }, true},
		{"github store without token", func(c *Config) { c.StoreDriver = "github" }, true},
		{"github store complete", func(c *Config) {
			c.StoreDriver = "github"
			c.GitHubToken = "ghp_test"
			c.GitHubRepoOwner = "owner"
			c.GitHubRepoName = "repo"
		}, false},
		{"minio endpoint without bucket", func(c *Config) { c.MinioEndpoint = "localhost:9000" }, true},
		{"production with default cron secret", func(c *Config) {
			c.Env = "production"
			c.GeminiAPIKey = "key"
		}, true},
		{"production with memory store", func(c *Config) {
			c.Env = "production"
			c.GeminiAPIKey = "key"
			c.CronSecret = strings.Repeat("s", 40)
			c.StoreDriver = "memory"
		}, true},
		{"production complete", func(c *Config) {
			c.Env = "production"
			c.GeminiAPIKey = "key"
			c.CronSecret = strings.Repeat("s", 40)
		}, false},
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

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	defer viper.Reset()

	t.Setenv("APP_ENV", "test")
	t.Setenv("QUOTA_PER_CLIENT_DAILY", "7")
	t.Setenv("QUOTA_FAIL_POLICY", "  CLOSED ")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("OWNER_HANDLE", "@someone")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, c.QuotaPerClientDaily)
	assert.Equal(t, 50, c.QuotaGlobalDaily)
	assert.Equal(t, "closed", c.QuotaFailPolicy)
	assert.Equal(t, "memory", c.StoreDriver)
	assert.Equal(t, "someone", c.OwnerHandle)
	assert.True(t, c.DailyFallbackToBase)
}

func TestConfig_BaselineUsesFixedZone(t *testing.T) {
	c := validConfig()
	b := c.Baseline()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.September, 25, 0, 0, 0, 0, ny), b)
	assert.Equal(t, ny.String(), c.Location().String())
}
