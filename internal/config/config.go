package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the portal bridge.
type Config struct {
	// API server settings
	BindAddr string

	// Browser settings
	CDPAddress  string
	DataDir     string
	Headless    bool
	WindowSize  string
	NavTimeout  time.Duration
	HTTPTimeout time.Duration

	// Login verification settings
	LoginTimeout time.Duration
	Settle       time.Duration
	Grace        time.Duration

	// Session store settings
	DBPath          string
	SessionTTL      time.Duration
	CleanupInterval time.Duration

	// Portal credentials for automated logins (optional)
	PortalEmail    string
	PortalPassword string

	// Logging settings
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:        getEnvOrDefault("BRIDGE_BIND_ADDR", "127.0.0.1:8420"),
		CDPAddress:      getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		DataDir:         getEnvOrDefault("BRIDGE_DATA_DIR", "./bridge_data"),
		Headless:        getEnvBoolOrDefault("BRIDGE_HEADLESS", false),
		WindowSize:      getEnvOrDefault("BRIDGE_WINDOW_SIZE", "1280,900"),
		NavTimeout:      getEnvDurationOrDefault("BRIDGE_NAV_TIMEOUT", 60*time.Second),
		HTTPTimeout:     getEnvDurationOrDefault("BRIDGE_HTTP_TIMEOUT", 30*time.Second),
		LoginTimeout:    getEnvDurationOrDefault("BRIDGE_LOGIN_TIMEOUT", 10*time.Minute),
		Settle:          getEnvDurationOrDefault("BRIDGE_LOGIN_SETTLE", 2*time.Second),
		Grace:           getEnvDurationOrDefault("BRIDGE_CLOSE_GRACE", 5*time.Minute),
		DBPath:          getEnvOrDefault("BRIDGE_DB_PATH", "./bridge_data/sessions.db"),
		SessionTTL:      getEnvDurationOrDefault("BRIDGE_SESSION_TTL", time.Hour),
		CleanupInterval: getEnvDurationOrDefault("BRIDGE_CLEANUP_INTERVAL", 15*time.Minute),
		PortalEmail:     os.Getenv("PORTAL_EMAIL"),
		PortalPassword:  os.Getenv("PORTAL_PASSWORD"),
		LogLevel:        getEnvOrDefault("BRIDGE_LOG_LEVEL", "info"),
		LogFile:         getEnvOrDefault("BRIDGE_LOG_FILE", "logs/bridge.log"),
		LogMaxSizeMB:    getEnvIntOrDefault("BRIDGE_LOG_MAX_SIZE_MB", 50),
		LogMaxBackups:   getEnvIntOrDefault("BRIDGE_LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:   getEnvIntOrDefault("BRIDGE_LOG_MAX_AGE_DAYS", 14),
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
