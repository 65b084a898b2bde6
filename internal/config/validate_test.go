package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }, "store.backend"},
		{"sqlite without path", func(c *Config) { c.Store.DBPath = "" }, "store.db_path"},
		{"workers too high", func(c *Config) { c.Sync.Workers = 65 }, "sync.workers"},
		{"zero attempts", func(c *Config) { c.Sync.MaxAttempts = 0 }, "sync.max_attempts"},
		{"tiny send timeout", func(c *Config) { c.Sync.SendTimeout = "1ms" }, "sync.send_timeout"},
		{"negative interval", func(c *Config) { c.Sync.MinSendInterval = "-1s" }, "sync.min_send_interval"},
		{"max below base", func(c *Config) { c.Sync.RetryMaxDelay = "1s"; c.Sync.RetryBaseDelay = "5s" }, "retry_max_delay"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule.timezone"},
		{"fast tick", func(c *Config) { c.Schedule.TickInterval = "10ms" }, "schedule.tick_interval"},
		{"bad format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
		{"empty listen", func(c *Config) { c.API.ListenAddr = "" }, "api.listen_addr"},
		{"bad base url", func(c *Config) { c.Transport.HTTP.BaseURL = "ftp://gw" }, "transport.http.base_url"},
		{"token and token url", func(c *Config) {
			c.Transport.HTTP.Token = "x"
			c.Transport.HTTP.TokenURL = "https://auth/token"
			c.Transport.HTTP.ClientID = "id"
		}, "mutually exclusive"},
		{"token url without client", func(c *Config) { c.Transport.HTTP.TokenURL = "https://auth/token" }, "client_id"},
		{"bad retries", func(c *Config) { c.Transport.HTTP.MaxRetries = -1 }, "max_retries"},
		{"ws url scheme", func(c *Config) { c.Transport.WebSocket.URL = "https://gw/ws" }, "transport.websocket.url"},
		{"bad capability", func(c *Config) {
			c.Nodes["n1"] = NodeConfig{Capabilities: []string{"SPRINKLER"}}
		}, "node.n1.capabilities"},
		{"bad node transport", func(c *Config) {
			c.Nodes["n1"] = NodeConfig{Transport: "carrier-pigeon"}
		}, "node.n1.transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			cfg.Store.DBPath = "/var/lib/pathsync/paths.db"
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_MemoryNeedsNoPath(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Store.Backend = "memory"
	cfg.Store.DBPath = ""

	assert.NoError(t, Validate(cfg))
}
