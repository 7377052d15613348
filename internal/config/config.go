// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "feedline-development-secret"

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int
	Host           string
	MetricsEnabled bool
	RequestTimeout time.Duration
}

// DatabaseConfig holds database configuration settings
type DatabaseConfig struct {
	Type     string // "postgres", "sqlite" or "mongo"
	URI      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	SQLitePath string

	MongoURI      string
	MongoDatabase string
}

// AuthConfig holds token and password settings
type AuthConfig struct {
	JWTSecret    string
	TokenTTL     time.Duration
	PasswordCost int
}

// CacheConfig points at the optional Redis post cache. Empty RedisAddr disables it.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// EventsConfig selects the live update broker. Empty NATSURL keeps events in-process.
type EventsConfig struct {
	NATSURL string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Auth           *AuthConfig
	Cache          *CacheConfig
	Events         *EventsConfig
	RateLimit      *RateLimitConfig
	AllowedOrigins []string
	Debug          bool
}

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:           8080,
		Host:           "0.0.0.0",
		MetricsEnabled: true,
		RequestTimeout: 5 * time.Second,
	}
}

// DefaultDatabaseConfig provides default database settings
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type:          "postgres",
		Port:          5432,
		SSLMode:       "require",
		SQLitePath:    "feedline.db",
		MongoDatabase: "feedline",
	}
}

func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		JWTSecret:    defaultJWTSecret,
		TokenTTL:     24 * time.Hour,
		PasswordCost: 12,
	}
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	envLocations := []string{
		".env",
		"../../.env", // Project root when running from cmd/server
		filepath.Join(os.Getenv("GOPATH"), "src/feedline/.env"),
	}
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			break
		}
	}

	serverConfig := DefaultConfig()
	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", portStr, err)
		}
		serverConfig.Port = port
	}
	serverConfig.Host = getEnvOrDefault("HOST", serverConfig.Host)
	if metricsEnabled := os.Getenv("METRICS_ENABLED"); metricsEnabled != "" {
		serverConfig.MetricsEnabled = metricsEnabled == "true"
	}
	timeout, err := getDurationOrDefault("REQUEST_TIMEOUT", serverConfig.RequestTimeout)
	if err != nil {
		return nil, err
	}
	serverConfig.RequestTimeout = timeout

	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	authConfig := DefaultAuthConfig()
	authConfig.JWTSecret = getEnvOrDefault("JWT_SECRET", authConfig.JWTSecret)
	if authConfig.TokenTTL, err = getDurationOrDefault("TOKEN_TTL", authConfig.TokenTTL); err != nil {
		return nil, err
	}
	if authConfig.PasswordCost, err = getIntOrDefault("PASSWORD_COST", authConfig.PasswordCost); err != nil {
		return nil, err
	}

	cacheConfig := &CacheConfig{
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		TTL:           5 * time.Minute,
	}
	if cacheConfig.RedisDB, err = getIntOrDefault("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cacheConfig.TTL, err = getDurationOrDefault("CACHE_TTL", cacheConfig.TTL); err != nil {
		return nil, err
	}

	rateConfig := &RateLimitConfig{RPS: 10, Burst: 20}
	if rps := os.Getenv("RATE_LIMIT_RPS"); rps != "" {
		v, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_RPS %q: %w", rps, err)
		}
		rateConfig.RPS = v
	}
	if rateConfig.Burst, err = getIntOrDefault("RATE_LIMIT_BURST", rateConfig.Burst); err != nil {
		return nil, err
	}

	config := &Config{
		Server:         serverConfig,
		Database:       dbConfig,
		Auth:           authConfig,
		Cache:          cacheConfig,
		Events:         &EventsConfig{NATSURL: os.Getenv("NATS_URL")},
		RateLimit:      rateConfig,
		AllowedOrigins: []string{"*"},
		Debug:          os.Getenv("DEBUG") == "true",
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	return config, nil
}

// UsingDefaultSecret reports whether tokens are signed with the built-in development secret.
func (c *Config) UsingDefaultSecret() bool {
	return c.Auth.JWTSecret == defaultJWTSecret
}

func loadDatabaseConfig() (*DatabaseConfig, error) {
	dbConfig := DefaultDatabaseConfig()
	dbConfig.Type = getEnvOrDefault("DB_TYPE", dbConfig.Type)

	switch dbConfig.Type {
	case "postgres":
		// Prioritize DATABASE_URL if provided
		if uri := os.Getenv("DATABASE_URL"); uri != "" {
			dbConfig.URI = uri
			dbConfig.SSLMode = getSSLModeFromURI(uri)
			return dbConfig, nil
		}

		dbConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
		port, err := getIntOrDefault("DB_PORT", dbConfig.Port)
		if err != nil {
			return nil, err
		}
		dbConfig.Port = port

		dbConfig.User = os.Getenv("DB_USER")
		if dbConfig.User == "" {
			return nil, fmt.Errorf("DB_USER environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
		}
		dbConfig.Password = os.Getenv("DB_PASSWORD")
		if dbConfig.Password == "" {
			return nil, fmt.Errorf("DB_PASSWORD environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
		}
		dbConfig.Name = getEnvOrDefault("DB_NAME", "postgres")
		dbConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", "require")

		dbConfig.URI = fmt.Sprintf(
			"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
			dbConfig.User,
			dbConfig.Password,
			dbConfig.Host,
			dbConfig.Port,
			dbConfig.Name,
			dbConfig.SSLMode,
		)
	case "sqlite":
		dbConfig.SQLitePath = getEnvOrDefault("SQLITE_PATH", dbConfig.SQLitePath)
	case "mongo":
		dbConfig.MongoURI = os.Getenv("MONGO_URI")
		if dbConfig.MongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI environment variable is required when DB_TYPE is mongo")
		}
		dbConfig.MongoDatabase = getEnvOrDefault("MONGO_DB", dbConfig.MongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q (want postgres, sqlite or mongo)", dbConfig.Type)
	}
	return dbConfig, nil
}

// Helper function to get environment variable with default fallback
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

// Helper function to extract sslmode from a DSN, defaults to "require"
func getSSLModeFromURI(uri string) string {
	if strings.Contains(uri, "sslmode=") {
		parts := strings.Split(uri, "?")
		if len(parts) > 1 {
			for _, param := range strings.Split(parts[1], "&") {
				kv := strings.SplitN(param, "=", 2)
				if len(kv) == 2 && kv[0] == "sslmode" {
					return kv[1]
				}
			}
		}
	}
	return "require"
}
