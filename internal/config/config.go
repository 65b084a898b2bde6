// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for pathsync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags). The
// [node.<id>] sections double as the static node registry.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Store     StoreConfig           `toml:"store"`
	Sync      SyncConfig            `toml:"sync"`
	Schedule  ScheduleConfig        `toml:"schedule"`
	Logging   LoggingConfig         `toml:"logging"`
	API       APIConfig             `toml:"api"`
	Transport TransportConfig       `toml:"transport"`
	Nodes     map[string]NodeConfig `toml:"node"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `toml:"backend"`
	DBPath  string `toml:"db_path"`
}

// SyncConfig controls the schedule fan-out: per-send deadline, parallelism,
// retry budget and pacing. Durations are Go duration strings.
type SyncConfig struct {
	SendTimeout     string `toml:"send_timeout"`
	Workers         int    `toml:"workers"`
	MaxAttempts     int    `toml:"max_attempts"`
	RetryBaseDelay  string `toml:"retry_base_delay"`
	RetryMaxDelay   string `toml:"retry_max_delay"`
	MinSendInterval string `toml:"min_send_interval"`
}

// ScheduleConfig controls how schedules are evaluated. Timezone is an IANA
// name; times of day and civil dates are interpreted in it.
type ScheduleConfig struct {
	Timezone     string `toml:"timezone"`
	TickInterval string `toml:"tick_interval"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// APIConfig controls the dashboard HTTP API served by `pathsync serve`.
type APIConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// TransportConfig groups the settings of every node link.
type TransportConfig struct {
	HTTP      HTTPConfig      `toml:"http"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Serial    SerialConfig    `toml:"serial"`
}

// HTTPConfig configures the HTTP gateway bridge. Token is a static bearer
// token; TokenURL, ClientID and ClientSecret select the OAuth2
// client-credentials flow instead.
type HTTPConfig struct {
	BaseURL      string `toml:"base_url"`
	Token        string `toml:"token"`
	TokenURL     string `toml:"token_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	MaxRetries   int    `toml:"max_retries"`
}

// WebSocketConfig configures the persistent gateway connection.
type WebSocketConfig struct {
	URL string `toml:"url"`
}

// SerialConfig configures the directly attached radio.
type SerialConfig struct {
	Device string `toml:"device"`
}

// NodeConfig is one [node.<id>] section: a field device known to the
// registry. Capabilities are names or numeric codes.
type NodeConfig struct {
	Name         string   `toml:"name"`
	Capabilities []string `toml:"capabilities"`
	Online       bool     `toml:"online"`
	Transport    string   `toml:"transport"`
	Address      string   `toml:"address"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DBPath     *string // --db flag
	Backend    *string // --store flag
	LogLevel   *string // derived from --verbose/--debug/--quiet
}
