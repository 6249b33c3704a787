// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	_ "time/tzdata" // embedded zoneinfo for QUOTA_TIMEZONE

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultCronSecret = "change-me-daily-post-secret"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`

	QuotaStore          string `mapstructure:"QUOTA_STORE"`
	QuotaPerClientDaily int    `mapstructure:"QUOTA_PER_CLIENT_DAILY"`
	QuotaGlobalDaily    int    `mapstructure:"QUOTA_GLOBAL_DAILY"`
	QuotaFailPolicy     string `mapstructure:"QUOTA_FAIL_POLICY"`
	QuotaTimezone       string `mapstructure:"QUOTA_TIMEZONE"`

	StoreDriver     string `mapstructure:"STORE_DRIVER"`
	StoreSQLitePath string `mapstructure:"STORE_SQLITE_PATH"`
	StoreMaxRetries int    `mapstructure:"STORE_MAX_RETRIES"`
	DBHost          string `mapstructure:"DB_HOST"`
	DBPort          string `mapstructure:"DB_PORT"`
	DBUser          string `mapstructure:"DB_USER"`
	DBPassword      string `mapstructure:"DB_PASSWORD"`
	DBName          string `mapstructure:"DB_NAME"`
	DBSSLMode       string `mapstructure:"DB_SSLMODE"`

	GitHubToken     string `mapstructure:"GITHUB_TOKEN"`
	GitHubRepoOwner string `mapstructure:"GITHUB_REPO_OWNER"`
	GitHubRepoName  string `mapstructure:"GITHUB_REPO_NAME"`
	GitHubBranch    string `mapstructure:"GITHUB_BRANCH"`

	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	GeminiAPIKey     string `mapstructure:"GEMINI_API_KEY"`
	GeminiTextModel  string `mapstructure:"GEMINI_TEXT_MODEL"`
	GeminiImageModel string `mapstructure:"GEMINI_IMAGE_MODEL"`

	OwnerHandle         string `mapstructure:"OWNER_HANDLE"`
	BaseSelfieKey       string `mapstructure:"BASE_SELFIE_KEY"`
	BaselineDate        string `mapstructure:"BASELINE_DATE"`
	CronSecret          string `mapstructure:"CRON_SECRET"`
	DailyFallbackToBase bool   `mapstructure:"DAILY_FALLBACK_TO_BASE"`

	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`
	TracingExporter string `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string `mapstructure:"OTLP_ENDPOINT"`

	MaxUploadSizeMB     int `mapstructure:"MAX_UPLOAD_SIZE_MB"`
	PollMaxAttempts     int `mapstructure:"POLL_MAX_ATTEMPTS"`
	PollIntervalMS      int `mapstructure:"POLL_INTERVAL_MS"`
	ListCacheTTLSeconds int `mapstructure:"LIST_CACHE_TTL_SECONDS"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	// A local .env is optional; real environment variables still win.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment overrides from .env")
	}

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("FEATURE_FLAGS", "tagged_posts=on")

	viper.SetDefault("QUOTA_STORE", "redis")
	viper.SetDefault("QUOTA_PER_CLIENT_DAILY", 3)
	viper.SetDefault("QUOTA_GLOBAL_DAILY", 50)
	viper.SetDefault("QUOTA_FAIL_POLICY", "open")
	viper.SetDefault("QUOTA_TIMEZONE", "America/New_York")

	viper.SetDefault("STORE_DRIVER", "sqlite")
	viper.SetDefault("STORE_SQLITE_PATH", "everyday.db")
	viper.SetDefault("STORE_MAX_RETRIES", 5)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "everyday")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("GITHUB_TOKEN", "")
	viper.SetDefault("GITHUB_REPO_OWNER", "")
	viper.SetDefault("GITHUB_REPO_NAME", "")
	viper.SetDefault("GITHUB_BRANCH", "main")

	viper.SetDefault("MINIO_ENDPOINT", "")
	viper.SetDefault("MINIO_ACCESS_KEY", "")
	viper.SetDefault("MINIO_SECRET_KEY", "")
	viper.SetDefault("MINIO_BUCKET", "")
	viper.SetDefault("MINIO_USE_SSL", false)

	viper.SetDefault("GEMINI_API_KEY", "")
	viper.SetDefault("GEMINI_TEXT_MODEL", "gemini-2.0-flash-exp")
	viper.SetDefault("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image-preview")

	viper.SetDefault("OWNER_HANDLE", "everyday.tina.zone")
	viper.SetDefault("BASE_SELFIE_KEY", "public/temp.jpg")
	viper.SetDefault("BASELINE_DATE", "2025-09-25")
	viper.SetDefault("CRON_SECRET", defaultCronSecret)
	viper.SetDefault("DAILY_FALLBACK_TO_BASE", true)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")

	viper.SetDefault("MAX_UPLOAD_SIZE_MB", 10)
	viper.SetDefault("POLL_MAX_ATTEMPTS", 40)
	viper.SetDefault("POLL_INTERVAL_MS", 3000)
	viper.SetDefault("LIST_CACHE_TTL_SECONDS", 15)
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.QuotaStore = strings.ToLower(strings.TrimSpace(c.QuotaStore))
	c.QuotaFailPolicy = strings.ToLower(strings.TrimSpace(c.QuotaFailPolicy))
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.OwnerHandle = strings.TrimPrefix(strings.TrimSpace(c.OwnerHandle), "@")
}

// IsProduction reports whether strict production rules apply.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Location returns the fixed zone used for quota windows and display dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Baseline returns the first day of the daily series in the fixed zone.
func (c *Config) Baseline() time.Time {
	t, err := time.ParseInLocation(time.DateOnly, c.BaselineDate, c.Location())
	if err != nil {
		return time.Date(2025, time.September, 25, 0, 0, 0, 0, c.Location())
	}
	return t
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.QuotaPerClientDaily <= 0 || c.QuotaGlobalDaily <= 0 {
		return errors.New("QUOTA_PER_CLIENT_DAILY and QUOTA_GLOBAL_DAILY must be positive")
	}
	switch c.QuotaFailPolicy {
	case "open", "closed":
	default:
		return fmt.Errorf("QUOTA_FAIL_POLICY must be 'open' or 'closed', got %q", c.QuotaFailPolicy)
	}
	switch c.QuotaStore {
	case "redis", "memory":
	default:
		return fmt.Errorf("QUOTA_STORE must be 'redis' or 'memory', got %q", c.QuotaStore)
	}
	if _, err := time.LoadLocation(c.QuotaTimezone); err != nil {
		return fmt.Errorf("QUOTA_TIMEZONE %q is not a known zone: %w", c.QuotaTimezone, err)
	}
	if _, err := time.Parse(time.DateOnly, c.BaselineDate); err != nil {
		return fmt.Errorf("BASELINE_DATE must be YYYY-MM-DD: %w", err)
	}
	if c.StoreMaxRetries < 1 {
		return errors.New("STORE_MAX_RETRIES must be at least 1")
	}

	switch c.StoreDriver {
	case "github":
		if c.GitHubToken == "" || c.GitHubRepoOwner == "" || c.GitHubRepoName == "" {
			return errors.New("GITHUB_TOKEN, GITHUB_REPO_OWNER and GITHUB_REPO_NAME are required for the github store")
		}
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.MinioEndpoint != "" && c.MinioBucket == "" {
		return errors.New("MINIO_BUCKET is required when MINIO_ENDPOINT is set")
	}

	if c.IsProduction() {
		if c.CronSecret == defaultCronSecret || len(c.CronSecret) < 32 {
			return errors.New("CRON_SECRET must be changed and at least 32 characters in production")
		}
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required in production")
		}
		if c.StoreDriver == "memory" {
			return errors.New("the memory store cannot be used in production")
		}
		if c.QuotaStore == "memory" {
			log.Println("WARNING: QUOTA_STORE is 'memory' in production. Counters are not shared between instances.")
		}
		if c.StoreDriver == "postgres" && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if c.GeminiAPIKey == "" {
		log.Println("WARNING: GEMINI_API_KEY is empty. Generation requests will fail unless callers supply their own key.")
	}

	return nil
}
