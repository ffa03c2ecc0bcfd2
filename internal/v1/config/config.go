package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the Yummy server.
type Config struct {
	ServerName     string
	BindIP         string
	BindPort       string

	ClientTimeout                time.Duration
	HeartbeatInterval            time.Duration
	HeartbeatTimeout             time.Duration
	ConnectionRestoreWaitTimeout time.Duration
	TokenLifetime                time.Duration

	APIKeyName     string
	IntegrationKey string
	SaltKey        string

	DatabasePath string

	MaxUserMeta int
	MaxRoomMeta int

	// Stateless mode: set when the server shares state across instances.
	RedisURL    string
	RedisPrefix string

	// OtelCollectorAddr enables tracing when non-empty; left unset, spans
	// are never started and the process never dials a collector.
	OtelCollectorAddr string
}

// Stateless reports whether this instance is configured to share state via Redis.
func (c *Config) Stateless() bool {
	return c.RedisURL != ""
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error accumulating every violation found, not just the first.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.ServerName = getEnvOrDefault("SERVER_NAME", "yummy-1")
	cfg.BindIP = getEnvOrDefault("BIND_IP", "0.0.0.0")
	cfg.BindPort = getEnvOrDefault("BIND_PORT", "9090")
	if port, err := strconv.Atoi(cfg.BindPort); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("BIND_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.BindPort))
	}

	cfg.ClientTimeout = mustDuration(&errs, "CLIENT_TIMEOUT", "30s")
	cfg.HeartbeatInterval = mustDuration(&errs, "HEARTBEAT_INTERVAL", "10s")
	cfg.HeartbeatTimeout = mustDuration(&errs, "HEARTBEAT_TIMEOUT", "30s")
	cfg.ConnectionRestoreWaitTimeout = mustDuration(&errs, "CONNECTION_RESTORE_WAIT_TIMEOUT", "30s")
	cfg.TokenLifetime = mustDuration(&errs, "TOKEN_LIFETIME", "24h")

	cfg.APIKeyName = getEnvOrDefault("API_KEY_NAME", "api-key")
	cfg.IntegrationKey = os.Getenv("INTEGRATION_KEY")
	if cfg.IntegrationKey == "" {
		errs = append(errs, "INTEGRATION_KEY is required")
	}

	cfg.SaltKey = os.Getenv("SALT_KEY")
	if cfg.SaltKey == "" {
		errs = append(errs, "SALT_KEY is required")
	} else if len(cfg.SaltKey) < 16 {
		errs = append(errs, fmt.Sprintf("SALT_KEY must be at least 16 characters (got %d)", len(cfg.SaltKey)))
	}

	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "./yummy.db")

	cfg.MaxUserMeta = mustInt(&errs, "MAX_USER_META", 16)
	cfg.MaxRoomMeta = mustInt(&errs, "MAX_ROOM_META", 16)

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.RedisPrefix = getEnvOrDefault("REDIS_PREFIX", "yummy")

	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func mustDuration(errs *[]string, key, defaultValue string) time.Duration {
	raw := getEnvOrDefault(key, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a valid duration (got '%s')", key, raw))
	}
	return d
}

func mustInt(errs *[]string, key string, defaultValue int) int {
	raw := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a non-negative integer (got '%s')", key, raw))
	}
	return n
}

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"server_name", cfg.ServerName,
		"bind", fmt.Sprintf("%s:%s", cfg.BindIP, cfg.BindPort),
		"salt_key", redactSecret(cfg.SaltKey),
		"integration_key", redactSecret(cfg.IntegrationKey),
		"database_path", cfg.DatabasePath,
		"stateless", cfg.Stateless(),
		"max_user_meta", cfg.MaxUserMeta,
		"max_room_meta", cfg.MaxRoomMeta,
		"tracing_enabled", cfg.OtelCollectorAddr != "",
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
