package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aussiebroadwan/marketsync/internal/client/backoff"
	"github.com/aussiebroadwan/marketsync/internal/client/connectivity"
	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/service"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
	"github.com/aussiebroadwan/marketsync/internal/client/syncer"
	"github.com/aussiebroadwan/marketsync/internal/client/transport"
)

type Config struct {
	APIURL        string // Required: base URL of the marketplace API
	ClientID      string // OAuth2 client id used for refresh (default: marketsync)
	DatabaseFile  string // Path to the on-device SQLite database (default: ./marketsync.db)
	DeviceKeyFile string // Path to the credential vault key, created on first use; empty keeps it in memory

	CallTimeout      time.Duration // Per attempt timeout (default: 10s)
	BackoffBase      time.Duration // First retry delay, doubled per retry (default: 1s)
	MaxRetries       int           // Transient retries per call (default: 3)
	ProactiveRefresh bool          // Refresh JWT access tokens before they expire (default: true)

	QueueLimit      int           // Max pending offline records (default: 1000)
	SyncRate        float64       // Replayed records per second (default: 5)
	SyncInterval    time.Duration // Periodic sync while online, 0 disables (default: 5m)
	ProbeInterval   time.Duration // Connectivity probe interval (default: 30s)
	SyncedRetention time.Duration // Keep synced records this long (default: 7 days)
	CacheTTL        time.Duration // Keep cached entities this long (default: 30 days)

	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	AdminPort            int           // Local admin HTTP port, 0 disables it (default: 9464)
	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text, pretty) (default: json)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
}

// LoadDotEnv preloads variables from a .env file. Variables already set in
// the environment win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func LoadConfig() Config {
	return Config{
		APIURL:        os.Getenv("MARKET_API_URL"),
		ClientID:      getEnvOrDefault("MARKET_CLIENT_ID", "marketsync"),
		DatabaseFile:  getEnvOrDefault("MARKET_DATABASE_FILE", "marketsync.db"),
		DeviceKeyFile: os.Getenv("MARKET_DEVICE_KEY_FILE"),

		CallTimeout:      getEnvDurationOrDefault("MARKET_CALL_TIMEOUT", transport.DefaultTimeout),
		BackoffBase:      getEnvDurationOrDefault("MARKET_BACKOFF_BASE", backoff.DefaultBase),
		MaxRetries:       getEnvIntOrDefault("MARKET_MAX_RETRIES", backoff.DefaultMaxRetries),
		ProactiveRefresh: getEnvBoolOrDefault("MARKET_PROACTIVE_REFRESH", true),

		QueueLimit:      getEnvIntOrDefault("MARKET_QUEUE_LIMIT", store.DefaultQueueLimit),
		SyncRate:        getEnvFloatOrDefault("MARKET_SYNC_RATE", syncer.DefaultRate),
		SyncInterval:    getEnvDurationOrDefault("MARKET_SYNC_INTERVAL", 5*time.Minute),
		ProbeInterval:   getEnvDurationOrDefault("MARKET_PROBE_INTERVAL", connectivity.DefaultInterval),
		SyncedRetention: getEnvDurationOrDefault("MARKET_SYNCED_RETENTION", service.DefaultSyncedRetention),
		CacheTTL:        getEnvDurationOrDefault("MARKET_CACHE_TTL", service.DefaultCacheTTL),

		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		AdminPort:            getEnvIntOrDefault("ADMIN_PORT", 9464),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

// Validate reports settings the client cannot start with.
func (c Config) Validate() error {
	var errs []error

	if c.APIURL == "" {
		errs = append(errs, errors.New("MARKET_API_URL is required"))
	} else if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("MARKET_API_URL %q is not an absolute URL", c.APIURL))
	}
	if c.DatabaseFile == "" {
		errs = append(errs, errors.New("MARKET_DATABASE_FILE must not be empty"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MARKET_MAX_RETRIES must not be negative"))
	}
	if c.QueueLimit <= 0 {
		errs = append(errs, errors.New("MARKET_QUEUE_LIMIT must be positive"))
	}
	if c.CallTimeout <= 0 || c.BackoffBase <= 0 {
		errs = append(errs, errors.New("MARKET_CALL_TIMEOUT and MARKET_BACKOFF_BASE must be positive"))
	}

	if len(errs) > 0 {
		return domain.NewConfigurationFailure(errors.Join(errs...))
	}
	return nil
}

// Policy returns the retry policy for these settings.
func (c Config) Policy() backoff.Policy {
	p := backoff.Default()
	p.Base = c.BackoffBase
	p.MaxRetries = c.MaxRetries
	return p
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
