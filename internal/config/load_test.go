package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatemesh/pathsync/internal/registry"
)

// writeTestConfig writes TOML content to a temp file and returns its path.
func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 1, cfg.Sync.Workers)
	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Sync.SendTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Schedule.TickIntervalDuration())
	assert.Equal(t, time.UTC, cfg.Schedule.Location())
	assert.Equal(t, 3, cfg.Transport.HTTP.MaxRetries)
	assert.NotNil(t, cfg.Nodes)
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[store]
backend = "memory"

[sync]
send_timeout = "3s"
workers = 4
max_attempts = 2
retry_base_delay = "500ms"
retry_max_delay = "5s"
min_send_interval = "250ms"

[schedule]
timezone = "America/Denver"
tick_interval = "15s"

[logging]
log_level = "debug"
log_format = "json"

[api]
listen_addr = ":9000"

[transport.http]
base_url = "https://gateway.farm.local"
token = "s3cret"
max_retries = 1

[transport.websocket]
url = "wss://gateway.farm.local/ws"

[transport.serial]
device = "/dev/ttyUSB0"

[node.hg-1]
name = "North headgate"
capabilities = ["HEADGATE_CONTROLLER", "11"]
online = true
transport = "websocket"

[node."pump 2"]
capabilities = ["pump-controller"]
transport = "serial"
address = "0x2a"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.RetryBaseDelayDuration())
	assert.Equal(t, 5*time.Second, cfg.Sync.RetryMaxDelayDuration())
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.MinSendIntervalDuration())
	assert.Equal(t, "America/Denver", cfg.Schedule.Location().String())
	assert.Equal(t, "https://gateway.farm.local", cfg.Transport.HTTP.BaseURL)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Transport.Serial.Device)
	require.Len(t, cfg.Nodes, 2)

	nodes := cfg.RegistryNodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, registry.Node{
		ID:           "hg-1",
		Name:         "North headgate",
		Capabilities: []registry.Capability{registry.CapHeadgateController, registry.CapFlowSensor},
		Online:       true,
		Transport:    "websocket",
	}, nodes[0])
	assert.Equal(t, "pump 2", nodes[1].ID)
	assert.Equal(t, "0x2a", nodes[1].Address)
	assert.False(t, nodes[1].Online)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[sync]\nworkers = 8\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, defaultSendTimeout, cfg.Sync.SendTimeout)
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
	assert.NotNil(t, cfg.Nodes)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[sync\nworkers = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
workers = 0
send_timeout = "soon"

[logging]
log_level = "chatty"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.workers")
	assert.Contains(t, err.Error(), "sync.send_timeout")
	assert.Contains(t, err.Error(), "logging.log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_OverrideChain(t *testing.T) {
	path := writeTestConfig(t, `
[store]
db_path = "/from/file.db"

[logging]
log_level = "warn"
`)

	cfg, got, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, "/from/file.db", cfg.Store.DBPath)
	assert.Equal(t, "warn", cfg.Logging.LogLevel)

	cfg, _, err = Resolve(
		EnvOverrides{ConfigPath: path, DBPath: "/from/env.db", LogLevel: "error"},
		CLIOverrides{},
	)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.db", cfg.Store.DBPath)
	assert.Equal(t, "error", cfg.Logging.LogLevel)

	cliDB, cliLevel, memory := "/from/cli.db", "debug", "memory"
	cfg, _, err = Resolve(
		EnvOverrides{ConfigPath: "/ignored/by/cli.toml", DBPath: "/from/env.db", LogLevel: "error"},
		CLIOverrides{ConfigPath: path, DBPath: &cliDB, LogLevel: &cliLevel, Backend: &memory},
	)
	require.NoError(t, err)
	assert.Equal(t, "/from/cli.db", cfg.Store.DBPath)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestResolve_RejectsBadOverride(t *testing.T) {
	_, _, err := Resolve(
		EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml"), LogLevel: "loud"},
		CLIOverrides{},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvDB, "/custom/paths.db")
	t.Setenv(EnvLogLevel, "")

	env := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", env.ConfigPath)
	assert.Equal(t, "/custom/paths.db", env.DBPath)
	assert.Empty(t, env.LogLevel)
}
