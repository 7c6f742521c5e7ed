// Package config provides configuration management for Revise.
// It loads settings from environment variables with the REVISE_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the Revise application.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Scheduler   SchedulerConfig
	Mastery     MasteryConfig
	Tracker     TrackerConfig
	Security    SecurityConfig
	Maintenance MaintenanceConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6464)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine type: sqlite, postgres (default: sqlite)
	DataPath      string // Path to data directory for sqlite (default: ./data)
	PostgresDSN   string // PostgreSQL connection string when StorageEngine is postgres
}

// SchedulerConfig contains the memory-model parameters. The growth
// coefficients live here rather than as inlined constants so deployments
// can tune them without a rebuild.
type SchedulerConfig struct {
	DesiredRetention    float64       // Target recall probability at the scheduled due time (default: 0.9)
	MaximumIntervalDays int           // Upper cap on any scheduled interval (default: 365)
	MinStability        float64       // Floor that keeps stability positive after a lapse (default: 0.01)
	RelearningStep      time.Duration // Interval after a lapse (default: 10m)
}

// MasteryConfig contains the per-item-type mastery-model parameters.
type MasteryConfig struct {
	PInit    float64 // Prior mastery probability (default: 0.2)
	PTransit float64 // Learning probability between attempts (default: 0.15)
	PSlip    float64 // Slip probability (default: 0.1)

	FlashcardGuess float64 // Guess probability for flashcards (default: 0.1)
	QuizGuess      float64 // Guess probability for quiz items (default: 0.25)
}

// TrackerConfig contains the background write queue configuration.
type TrackerConfig struct {
	QueueSize          int           // Buffered write queue capacity (default: 256)
	MaxRetries         int           // Retries per write before dropping it (default: 3)
	ShutdownTimeout    time.Duration // Drain window on shutdown (default: 10s)
	RatePerSecond      float64       // Writes per second to storage, 0 disables (default: 100)
	RateBurst          int           // Limiter burst (default: 50)
	BreakerMaxFailures int           // Consecutive failures before the breaker opens (default: 5)
	BreakerTimeout     time.Duration // Open duration before half-open probes (default: 30s)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string // Security mode: development, production (default: development)
	APIToken     string // API authentication token
}

// MaintenanceConfig contains the nightly aggregate rollup settings.
type MaintenanceConfig struct {
	RollupEnabled bool   // Enable the nightly rollup job (default: true)
	RollupTime    string // Local HH:MM the rollup runs at (default: 03:30)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the REVISE_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("REVISE_PORT", 6464),
			Host: getEnv("REVISE_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("REVISE_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("REVISE_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("REVISE_POSTGRES_DSN", ""),
		},
		Scheduler: SchedulerConfig{
			DesiredRetention:    getEnvFloat("REVISE_DESIRED_RETENTION", 0.9),
			MaximumIntervalDays: getEnvInt("REVISE_MAX_INTERVAL_DAYS", 365),
			MinStability:        getEnvFloat("REVISE_MIN_STABILITY", 0.01),
			RelearningStep:      getEnvDuration("REVISE_RELEARNING_STEP", 10*time.Minute),
		},
		Mastery: MasteryConfig{
			PInit:          getEnvFloat("REVISE_MASTERY_P_INIT", 0.2),
			PTransit:       getEnvFloat("REVISE_MASTERY_P_TRANSIT", 0.15),
			PSlip:          getEnvFloat("REVISE_MASTERY_P_SLIP", 0.1),
			FlashcardGuess: getEnvFloat("REVISE_MASTERY_FLASHCARD_GUESS", 0.1),
			QuizGuess:      getEnvFloat("REVISE_MASTERY_QUIZ_GUESS", 0.25),
		},
		Tracker: TrackerConfig{
			QueueSize:          getEnvInt("REVISE_TRACKER_QUEUE_SIZE", 256),
			MaxRetries:         getEnvInt("REVISE_TRACKER_MAX_RETRIES", 3),
			ShutdownTimeout:    getEnvDuration("REVISE_TRACKER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RatePerSecond:      getEnvFloat("REVISE_TRACKER_RATE_PER_SECOND", 100),
			RateBurst:          getEnvInt("REVISE_TRACKER_RATE_BURST", 50),
			BreakerMaxFailures: getEnvInt("REVISE_TRACKER_BREAKER_FAILURES", 5),
			BreakerTimeout:     getEnvDuration("REVISE_TRACKER_BREAKER_TIMEOUT", 30*time.Second),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("REVISE_SECURITY_MODE", "development"),
			APIToken:     getEnv("REVISE_API_TOKEN", ""),
		},
		Maintenance: MaintenanceConfig{
			RollupEnabled: getEnvBool("REVISE_ROLLUP_ENABLED", true),
			RollupTime:    getEnv("REVISE_ROLLUP_TIME", "03:30"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scheduler.DesiredRetention <= 0 || c.Scheduler.DesiredRetention >= 1 {
		return fmt.Errorf("config: REVISE_DESIRED_RETENTION %f must be in (0, 1)",
			c.Scheduler.DesiredRetention)
	}
	if c.Scheduler.MaximumIntervalDays < 1 {
		return fmt.Errorf("config: REVISE_MAX_INTERVAL_DAYS %d must be at least 1",
			c.Scheduler.MaximumIntervalDays)
	}
	for name, p := range map[string]float64{
		"REVISE_MASTERY_P_INIT":          c.Mastery.PInit,
		"REVISE_MASTERY_P_TRANSIT":       c.Mastery.PTransit,
		"REVISE_MASTERY_P_SLIP":          c.Mastery.PSlip,
		"REVISE_MASTERY_FLASHCARD_GUESS": c.Mastery.FlashcardGuess,
		"REVISE_MASTERY_QUIZ_GUESS":      c.Mastery.QuizGuess,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("config: %s %f must be in [0, 1]", name, p)
		}
	}
	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: REVISE_POSTGRES_DSN is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine)
	}
	if c.Maintenance.RollupEnabled {
		if _, err := time.Parse("15:04", c.Maintenance.RollupTime); err != nil {
			return fmt.Errorf("config: REVISE_ROLLUP_TIME %q must be HH:MM", c.Maintenance.RollupTime)
		}
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "30s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
