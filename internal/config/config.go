// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	URL      string
	LogLevel slog.Level

	Session    SessionConfig
	Connection ConnectionConfig
	Mirror     MirrorConfig

	// StatusAddr and HealthAddr are empty when the listener is disabled.
	StatusAddr string
	HealthAddr string
}

// SessionConfig controls where the session token lives.
type SessionConfig struct {
	Backend       string
	DBPath        string
	Scope         string
	TTL           time.Duration
	SweepInterval time.Duration
}

// ConnectionConfig controls the socket and request behaviour.
type ConnectionConfig struct {
	RequestTimeout    time.Duration
	KeepaliveInterval time.Duration
	ReconnectBase     time.Duration
	ReconnectAttempts int
	DialTimeout       time.Duration
	SendRate          float64
	SendBurst         int
}

// MirrorConfig bounds the client-side state.
type MirrorConfig struct {
	MessageCap   int
	HistoryLimit int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		URL:      getEnv("CHAT_URL", "ws://localhost:8080/ws"),
		LogLevel: parseLevel(getEnv("CHAT_LOG_LEVEL", "info")),
		Session: SessionConfig{
			Backend:       strings.ToLower(getEnv("CHAT_SESSION_BACKEND", BackendMemory)),
			DBPath:        getEnv("CHAT_SESSION_DB_PATH", "./data/session.db"),
			Scope:         getEnv("CHAT_SESSION_SCOPE", ""),
			TTL:           getEnvDuration("CHAT_SESSION_TTL", 12*time.Hour),
			SweepInterval: getEnvDuration("CHAT_SESSION_SWEEP_INTERVAL", 10*time.Minute),
		},
		Connection: ConnectionConfig{
			RequestTimeout:    getEnvDuration("CHAT_REQUEST_TIMEOUT", 10*time.Second),
			KeepaliveInterval: getEnvDuration("CHAT_KEEPALIVE_INTERVAL", 25*time.Second),
			ReconnectBase:     getEnvDuration("CHAT_RECONNECT_BASE_DELAY", time.Second),
			ReconnectAttempts: getEnvInt("CHAT_RECONNECT_MAX_ATTEMPTS", 5),
			DialTimeout:       getEnvDuration("CHAT_DIAL_TIMEOUT", 10*time.Second),
			SendRate:          getEnvFloat("CHAT_SEND_RATE", 0),
			SendBurst:         getEnvInt("CHAT_SEND_BURST", 5),
		},
		Mirror: MirrorConfig{
			MessageCap:   getEnvInt("CHAT_MESSAGE_CAP", 1000),
			HistoryLimit: getEnvInt("CHAT_HISTORY_LIMIT", 50),
		},
		StatusAddr: getEnv("CHAT_STATUS_ADDR", ""),
		HealthAddr: getEnv("CHAT_HEALTH_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("CHAT_URL cannot be empty")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("CHAT_URL is not a valid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("CHAT_URL must use ws, wss, http or https, got %q", u.Scheme)
	}

	switch c.Session.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Session.DBPath == "" {
			return fmt.Errorf("CHAT_SESSION_DB_PATH cannot be empty with the sqlite backend")
		}
		if c.Session.TTL <= 0 {
			return fmt.Errorf("CHAT_SESSION_TTL must be > 0")
		}
	default:
		return fmt.Errorf("CHAT_SESSION_BACKEND must be %q or %q, got %q", BackendMemory, BackendSQLite, c.Session.Backend)
	}

	if c.Connection.RequestTimeout <= 0 {
		return fmt.Errorf("CHAT_REQUEST_TIMEOUT must be > 0")
	}
	if c.Connection.ReconnectBase <= 0 {
		return fmt.Errorf("CHAT_RECONNECT_BASE_DELAY must be > 0")
	}
	if c.Connection.ReconnectAttempts <= 0 {
		return fmt.Errorf("CHAT_RECONNECT_MAX_ATTEMPTS must be > 0")
	}
	if c.Connection.SendRate < 0 {
		return fmt.Errorf("CHAT_SEND_RATE cannot be negative")
	}
	if c.Mirror.MessageCap <= 0 {
		return fmt.Errorf("CHAT_MESSAGE_CAP must be > 0")
	}
	if c.Mirror.HistoryLimit <= 0 {
		return fmt.Errorf("CHAT_HISTORY_LIMIT must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("30s") or plain milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
