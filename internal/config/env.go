package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "PATHSYNC_CONFIG"
	EnvDB       = "PATHSYNC_DB"
	EnvLogLevel = "PATHSYNC_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // PATHSYNC_CONFIG: override config file path
	DBPath     string // PATHSYNC_DB: SQLite database path
	LogLevel   string // PATHSYNC_LOG_LEVEL: debug, info, warn, error
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies them.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DBPath:     os.Getenv(EnvDB),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
