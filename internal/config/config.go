// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dshills/brsrcheck/internal/logging"
	"github.com/dshills/brsrcheck/internal/retry"
)

// Config holds all application configuration.
type Config struct {
	Model   ModelConfig
	Extract ExtractConfig
	Remote  RemoteConfig
	Server  ServerConfig
	Log     logging.Config
}

// ModelConfig holds the model client settings.
type ModelConfig struct {
	// Spec is a "provider:model" string, e.g. "gemini:gemini-2.5-flash".
	Spec string
	// DefaultAPIKey is used when a request carries no credential of its own.
	DefaultAPIKey string
	Retry         retry.Policy
	Timeout       time.Duration
}

// ExtractConfig holds the extraction orchestrator settings.
type ExtractConfig struct {
	Pacing   time.Duration
	MaxChars int
}

// RemoteConfig holds the call-site wrapper settings used when the CLI talks
// to a deployed brsrd instead of calling the model directly.
type RemoteConfig struct {
	URL   string
	Retry retry.Policy
}

// ServerConfig holds brsrd settings.
type ServerConfig struct {
	ListenAddr string
}

// Defaults mirrored by Load when the environment is empty.
const (
	DefaultModel    = "gemini:gemini-2.5-flash"
	DefaultMaxChars = 30000
)

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Model: ModelConfig{
			Spec:          getEnv("BRSR_MODEL", DefaultModel),
			DefaultAPIKey: getEnv("GEMINI_API_KEY", ""),
			Retry: retry.Policy{
				Attempts:   getEnvAsInt("BRSR_MAX_ATTEMPTS", 5),
				BaseDelay:  getEnvAsDuration("BRSR_BASE_DELAY", 10*time.Second),
				Multiplier: getEnvAsFloat("BRSR_BACKOFF_MULTIPLIER", 2),
			},
			Timeout: getEnvAsDuration("BRSR_MODEL_TIMEOUT", 5*time.Minute),
		},
		Extract: ExtractConfig{
			Pacing:   getEnvAsDuration("BRSR_PACING", 12*time.Second),
			MaxChars: getEnvAsInt("BRSR_MAX_CHARS", DefaultMaxChars),
		},
		Remote: RemoteConfig{
			URL: getEnv("BRSR_REMOTE_URL", ""),
			Retry: retry.Policy{
				Attempts:   getEnvAsInt("BRSR_REMOTE_ATTEMPTS", 4),
				BaseDelay:  getEnvAsDuration("BRSR_REMOTE_BASE_DELAY", 10*time.Second),
				Multiplier: getEnvAsFloat("BRSR_REMOTE_MULTIPLIER", 1.5),
			},
		},
		Server: ServerConfig{
			ListenAddr: getEnv("LISTEN_ADDR", ":5000"),
		},
		Log: logging.Config{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate rejects settings that would make the pipeline unusable.
func (c *Config) Validate() error {
	if err := c.Model.Retry.Validate(); err != nil {
		return fmt.Errorf("model retry policy: %w", err)
	}
	if err := c.Remote.Retry.Validate(); err != nil {
		return fmt.Errorf("remote retry policy: %w", err)
	}
	if c.Extract.Pacing < 0 {
		return fmt.Errorf("BRSR_PACING must not be negative, got %s", c.Extract.Pacing)
	}
	if c.Extract.MaxChars <= 0 {
		return fmt.Errorf("BRSR_MAX_CHARS must be > 0, got %d", c.Extract.MaxChars)
	}
	if c.Model.Spec == "" {
		return fmt.Errorf("BRSR_MODEL is required")
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
