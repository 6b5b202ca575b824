// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "dev-secret-change-me"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	RedisURL string `mapstructure:"REDIS_URL"`

	AuthProvider            string `mapstructure:"AUTH_PROVIDER"`
	JWTSecret               string `mapstructure:"JWT_SECRET"`
	SessionTTLHours         int    `mapstructure:"SESSION_TTL_HOURS"`
	SignupEnabled           bool   `mapstructure:"SIGNUP_ENABLED"`
	FirebaseCredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseProjectID       string `mapstructure:"FIREBASE_PROJECT_ID"`
	FirebaseAPIKey          string `mapstructure:"FIREBASE_API_KEY"`
	PublicBaseURL           string `mapstructure:"PUBLIC_BASE_URL"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	UploadDir        string `mapstructure:"UPLOAD_DIR"`
	UploadMaxBytes   int64  `mapstructure:"UPLOAD_MAX_BYTES"`
	UploadPublicPath string `mapstructure:"UPLOAD_PUBLIC_PATH"`

	AllowedOrigins      string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags        string `mapstructure:"FEATURE_FLAGS"`
	DraftTTLMinutes     int    `mapstructure:"DRAFT_TTL_MINUTES"`
	ViewGuardTTLMinutes int    `mapstructure:"VIEW_GUARD_TTL_MINUTES"`
	RateLimitPerMinute  int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`

	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`
	TracingExporter string `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName     string `mapstructure:"OTEL_SERVICE_NAME"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()

	// The config file is optional; env vars and defaults cover every key.
	_ = v.ReadInConfig()

	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "market")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "marketplace")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("SQLITE_PATH", "marketplace.db")
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("AUTH_PROVIDER", "local")
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("SESSION_TTL_HOURS", 72)
	v.SetDefault("SIGNUP_ENABLED", true)
	v.SetDefault("FIREBASE_CREDENTIALS_FILE", "")
	v.SetDefault("FIREBASE_PROJECT_ID", "")
	v.SetDefault("FIREBASE_API_KEY", "")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "no-reply@marketplace.local")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("UPLOAD_MAX_BYTES", 10<<20)
	v.SetDefault("UPLOAD_PUBLIC_PATH", "/uploads")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("FEATURE_FLAGS", "")
	v.SetDefault("DRAFT_TTL_MINUTES", 30)
	v.SetDefault("VIEW_GUARD_TTL_MINUTES", 30)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 30)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("OTEL_SERVICE_NAME", "marketplace")
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.AuthProvider = strings.ToLower(strings.TrimSpace(c.AuthProvider))
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
}

// IsProduction reports whether the app runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}

	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	switch c.AuthProvider {
	case "local":
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET is required for the local auth provider")
		}
	case "firebase":
		if c.FirebaseCredentialsFile == "" || c.FirebaseAPIKey == "" {
			return errors.New("FIREBASE_CREDENTIALS_FILE and FIREBASE_API_KEY are required for the firebase auth provider")
		}
	default:
		return fmt.Errorf("unsupported AUTH_PROVIDER %q", c.AuthProvider)
	}

	if c.SessionTTLHours <= 0 || c.DraftTTLMinutes <= 0 || c.ViewGuardTTLMinutes <= 0 {
		return errors.New("SESSION_TTL_HOURS, DRAFT_TTL_MINUTES and VIEW_GUARD_TTL_MINUTES must be positive")
	}
	if c.UploadMaxBytes <= 0 {
		return errors.New("UPLOAD_MAX_BYTES must be positive")
	}

	if c.IsProduction() {
		if c.AuthProvider == "local" && (c.JWTSecret == defaultJWTSecret || len(c.JWTSecret) < 32) {
			return errors.New("JWT_SECRET must be changed and at least 32 characters in production")
		}
		if c.DBDriver == "postgres" && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.AllowedOrigins == "*" {
			slog.Warn("ALLOWED_ORIGINS is set to '*' in production")
		}
	} else if c.AuthProvider == "local" && len(c.JWTSecret) < 32 {
		slog.Warn("JWT_SECRET is shorter than 32 characters; use a stronger secret for production")
	}

	return nil
}

// PostgresDSN builds the connection string for the postgres driver.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}
