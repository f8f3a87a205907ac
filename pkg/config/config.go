package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration from environment variables
type Config struct {
	// Application
	AppPort     string
	FrontendURL string
	Environment string
	LogLevel    string
	LogFormat   string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Auth
	JWTSecret              string
	JWTExpire              time.Duration
	JWTActivationExpire    time.Duration
	JWTResetPasswordExpire time.Duration
	AuthRateLimitPerSecond float64
	AuthRateLimitBurst     int

	// Email (SMTP relay)
	EmailHost     string
	EmailPort     int
	EmailUser     string
	EmailPassword string
	EmailFrom     string

	// Messaging
	AMQPURL string

	// OpenTelemetry
	OTELMetricsEnabled        bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPProtocol  string
	OTELExporterOTLPHeaders   string // key1=value1,key2=value2
	OTELExporterOTLPInsecure  bool   // true for http://, false for https://
	OTELServiceName           string
	OTELServiceVersion        string
	OTELDeploymentEnvironment string
	OTELResourceAttributes    string

	// Warnings collected while loading; logged by the caller once a logger exists.
	Warnings []string
}

// LoadConfig loads configuration from .env file and environment variables with defaults
func LoadConfig() *Config {
	var warnings []string
	if err := godotenv.Load(); err != nil {
		// .env is optional; only report real read/parse failures
		if _, ok := err.(*os.PathError); !ok {
			warnings = append(warnings, "error loading .env file: "+err.Error())
		}
	}

	env := getEnv("OTEL_DEPLOYMENT_ENVIRONMENT", "development")

	return &Config{
		AppPort:     getEnv("APP_PORT", "8080"),
		FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),
		Environment: env,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "shopfront"),

		JWTSecret:              getEnv("JWT_SECRET", ""),
		JWTExpire:              getEnvDuration("JWT_EXPIRE", 7*24*time.Hour),
		JWTActivationExpire:    getEnvDuration("JWT_ACTIVATION_EXPIRE", 24*time.Hour),
		JWTResetPasswordExpire: getEnvDuration("JWT_RESET_PASSWORD_EXPIRE", time.Hour),
		AuthRateLimitPerSecond: getEnvFloat("AUTH_RATE_LIMIT_RPS", 1),
		AuthRateLimitBurst:     getEnvInt("AUTH_RATE_LIMIT_BURST", 10),

		EmailHost:     getEnv("EMAIL_HOST", ""),
		EmailPort:     getEnvInt("EMAIL_PORT", 587),
		EmailUser:     getEnv("EMAIL_USER", ""),
		EmailPassword: getEnv("EMAIL_PASSWORD", ""),
		EmailFrom:     getEnv("EMAIL_FROM", "no-reply@shopfront.local"),

		AMQPURL: getEnv("AMQP_URL", ""),

		OTELMetricsEnabled:        getEnvBool("OTEL_METRICS_ENABLED", true),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTELExporterOTLPProtocol:  getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "http/protobuf"),
		OTELExporterOTLPHeaders:   getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		OTELExporterOTLPInsecure:  getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "shopfront-api"),
		OTELServiceVersion:        getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTELDeploymentEnvironment: env,
		OTELResourceAttributes:    getEnv("OTEL_RESOURCE_ATTRIBUTES", ""),

		Warnings: warnings,
	}
}

// Validate reports settings the server cannot run with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		if c.Environment != "development" {
			return errors.New("JWT_SECRET must be set outside development")
		}
		c.JWTSecret = "development-secret"
		c.Warnings = append(c.Warnings, "JWT_SECRET not set, using development secret")
	}
	if c.JWTExpire <= 0 || c.JWTActivationExpire <= 0 || c.JWTResetPasswordExpire <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	return nil
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true&charset=utf8mb4"
}

// GetAppPortInt returns the application port as an integer
func (c *Config) GetAppPortInt() int {
	port, err := strconv.Atoi(c.AppPort)
	if err != nil {
		return 8080
	}
	return port
}

// EmailEnabled reports whether an SMTP relay is configured.
func (c *Config) EmailEnabled() bool {
	return c.EmailHost != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if value == "true" || value == "1" || value == "yes" {
			return true
		}
		return false
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90m") and a day suffix ("7d").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if strings.HasSuffix(value, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(value, "d")); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	return defaultValue
}
