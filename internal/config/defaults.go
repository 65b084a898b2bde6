package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultBackend         = "sqlite"
	defaultSendTimeout     = "10s"
	defaultWorkers         = 1
	defaultMaxAttempts     = 5
	defaultRetryBaseDelay  = "2s"
	defaultRetryMaxDelay   = "1m"
	defaultMinSendInterval = "0s"
	defaultTimezone        = "UTC"
	defaultTickInterval    = "30s"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultListenAddr      = "127.0.0.1:8470"
	defaultHTTPMaxRetries  = 3
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: defaultBackend,
			DBPath:  DefaultDBPath(),
		},
		Sync: SyncConfig{
			SendTimeout:     defaultSendTimeout,
			Workers:         defaultWorkers,
			MaxAttempts:     defaultMaxAttempts,
			RetryBaseDelay:  defaultRetryBaseDelay,
			RetryMaxDelay:   defaultRetryMaxDelay,
			MinSendInterval: defaultMinSendInterval,
		},
		Schedule: ScheduleConfig{
			Timezone:     defaultTimezone,
			TickInterval: defaultTickInterval,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		API: APIConfig{ListenAddr: defaultListenAddr},
		Transport: TransportConfig{
			HTTP: HTTPConfig{MaxRetries: defaultHTTPMaxRetries},
		},
		Nodes: make(map[string]NodeConfig),
	}
}
