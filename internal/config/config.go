// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported store backends.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

var drivers = []string{DriverPostgres, DriverSQLite, DriverMongo, DriverMemory}

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env            string `mapstructure:"APP_ENV"`
	Port           string `mapstructure:"PORT"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`

	DBDriver     string `mapstructure:"DB_DRIVER"`
	DBHost       string `mapstructure:"DB_HOST"`
	DBPort       string `mapstructure:"DB_PORT"`
	DBUser       string `mapstructure:"DB_USER"`
	DBPassword   string `mapstructure:"DB_PASSWORD"`
	DBName       string `mapstructure:"DB_NAME"`
	DBSSLMode    string `mapstructure:"DB_SSLMODE"`
	SQLitePath   string `mapstructure:"SQLITE_PATH"`
	DBMaxOpen    int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdle    int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxMin int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`

	RedisURL            string `mapstructure:"REDIS_URL"`
	PostCacheTTLSeconds int    `mapstructure:"POST_CACHE_TTL_SECONDS"`

	FeedMaxRepostDepth int `mapstructure:"FEED_MAX_REPOST_DEPTH"`
	FeedLikersPreview  int `mapstructure:"FEED_LIKERS_PREVIEW"`
	FeedConcurrency    int `mapstructure:"FEED_CONCURRENCY"`
	FeedDefaultLimit   int `mapstructure:"FEED_DEFAULT_LIMIT"`
	FeedMaxLimit       int `mapstructure:"FEED_MAX_LIMIT"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName     string  `mapstructure:"OTEL_SERVICE_NAME"`
	TraceSampling   float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("FEATURE_FLAGS", "")

	viper.SetDefault("DB_DRIVER", DriverPostgres)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "murmur")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("SQLITE_PATH", "murmur.db")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)

	viper.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	viper.SetDefault("MONGO_DATABASE", "murmur")

	viper.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	viper.SetDefault("POST_CACHE_TTL_SECONDS", 60)

	viper.SetDefault("FEED_MAX_REPOST_DEPTH", 3)
	viper.SetDefault("FEED_LIKERS_PREVIEW", 5)
	viper.SetDefault("FEED_CONCURRENCY", 8)
	viper.SetDefault("FEED_DEFAULT_LIMIT", 20)
	viper.SetDefault("FEED_MAX_LIMIT", 100)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("OTEL_SERVICE_NAME", "murmur")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// LoadConfig loads application configuration from a .env file, config
// files and environment variables, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()
	setDefaults()

	// The base file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config.%s.yml: %w", env, err)
			}
		} else {
			log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
		}
	}

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

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
}

// IsProduction reports whether the production profile is active.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// IsRelaxed reports whether rate limits and strict checks are disabled.
func (c *Config) IsRelaxed() bool {
	return c.Env == "test" || c.Env == "development"
}

// PostCacheTTL returns the cache-aside TTL for raw posts.
func (c *Config) PostCacheTTL() time.Duration {
	return time.Duration(c.PostCacheTTLSeconds) * time.Second
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if !slices.Contains(drivers, c.DBDriver) {
		return fmt.Errorf("DB_DRIVER must be one of %v, got %q", drivers, c.DBDriver)
	}
	if c.FeedMaxRepostDepth < 0 {
		return errors.New("FEED_MAX_REPOST_DEPTH must not be negative")
	}
	if c.FeedConcurrency < 0 || c.FeedLikersPreview < 0 {
		return errors.New("FEED_CONCURRENCY and FEED_LIKERS_PREVIEW must not be negative")
	}
	if c.FeedMaxLimit > 0 && c.FeedDefaultLimit > c.FeedMaxLimit {
		return errors.New("FEED_DEFAULT_LIMIT must not exceed FEED_MAX_LIMIT")
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBDriver == DriverMemory {
			return errors.New("DB_DRIVER=memory is not allowed in production")
		}
		if c.DBDriver == DriverPostgres {
			if c.DBPassword == "password" || c.DBPassword == "" {
				return errors.New("a strong DB_PASSWORD is required in production")
			}
			if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
				return errors.New("DB_SSLMODE must enable TLS in production")
			}
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
