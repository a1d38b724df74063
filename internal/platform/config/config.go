package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultServiceName     = "be-plt-approvals"
	defaultEnvironment     = "development"
	defaultHTTPPort        = 8086
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultDBHost          = "localhost"
	defaultDBPort          = 5432
	defaultDBSSLMode       = "disable"
	defaultDBMaxConns      = 10
	defaultDBMinConns      = 2
	defaultDBMaxConnTime   = time.Hour
	defaultDBMaxIdleTime   = 30 * time.Minute
	defaultStoreBackend    = "postgres"
)

// ServiceConfig identifies the running service instance.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds Postgres connection pool settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
}

// Config is the full service configuration, loaded from the environment.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig

	// StoreBackend selects the workflow store: "postgres" or "memory".
	// Memory is intended for local development and tests only.
	StoreBackend string

	NATSURL      string // empty disables the notification publisher
	JournalsURL  string // journals service base URL for approved-action posting
	IdentityURL  string // identity service base URL; empty disables role re-resolution
	JWTSecret    string // HMAC secret for bearer tokens; empty falls back to header identity
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", defaultServiceName),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", defaultEnvironment),
		},
		Server: ServerConfig{
			Port:            getEnvInt("HTTP_PORT", defaultHTTPPort),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     getEnvDuration("HTTP_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", defaultDBHost),
			Port:        getEnvInt("DB_PORT", defaultDBPort),
			User:        getEnv("DB_USER", "approvals"),
			Password:    getEnv("DB_PASSWORD", ""),
			Database:    getEnv("DB_NAME", "approvals"),
			SSLMode:     getEnv("DB_SSLMODE", defaultDBSSLMode),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", defaultDBMaxConns)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", defaultDBMinConns)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_LIFETIME", defaultDBMaxConnTime),
			MaxIdleTime: getEnvDuration("DB_MAX_CONN_IDLE", defaultDBMaxIdleTime),
		},
		StoreBackend: getEnv("STORE_BACKEND", defaultStoreBackend),
		NATSURL:      getEnv("NATS_URL", ""),
		JournalsURL:  getEnv("JOURNALS_URL", "http://localhost:8083"),
		IdentityURL:  getEnv("IDENTITY_URL", ""),
		JWTSecret:    getEnv("JWT_SECRET", ""),
	}

	if cfg.StoreBackend != "postgres" && cfg.StoreBackend != "memory" {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: must be postgres or memory", cfg.StoreBackend)
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid HTTP_PORT %d", cfg.Server.Port)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
