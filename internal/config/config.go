package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the process settings of the application. The feed
// configuration itself lives in the YAML document at ConfigPath.
type Config struct {
	// File paths
	ConfigPath   string
	FeedsCSVPath string

	// Server settings
	ServerHost string
	ServerPort int
	SecretKey  string

	// Processing settings
	DebounceWindow time.Duration

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration built from the
// environment, falling back to hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		ConfigPath:     GetEnvString(EnvPrefix+"CONFIG", DefaultConfigPath),
		FeedsCSVPath:   GetEnvString(EnvPrefix+"CSV_PATH", DefaultFeedsCSVPath),
		ServerHost:     GetEnvString(EnvPrefix+"HOST", DefaultServerHost),
		ServerPort:     GetEnvInt(EnvPrefix+"PORT", DefaultServerPort),
		SecretKey:      GetEnvString(EnvPrefix+"SECRET_KEY", ""),
		DebounceWindow: GetEnvDuration(EnvPrefix+"DEBOUNCE_WINDOW", DefaultDebounceWindow),
		LogLevel:       GetEnvLogLevel(EnvPrefix+"LOG_LEVEL", logLevel),
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
