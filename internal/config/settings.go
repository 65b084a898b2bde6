package config

import (
	"log/slog"
	"maps"
	"slices"
	"time"
	// Embedded zone database for gateways without /usr/share/zoneinfo.
	_ "time/tzdata"

	"github.com/gatemesh/pathsync/internal/registry"
)

// mustDuration parses a duration that Validate has already accepted.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

// SendTimeoutDuration returns sync.send_timeout.
func (s SyncConfig) SendTimeoutDuration() time.Duration { return mustDuration(s.SendTimeout) }

// RetryBaseDelayDuration returns sync.retry_base_delay.
func (s SyncConfig) RetryBaseDelayDuration() time.Duration { return mustDuration(s.RetryBaseDelay) }

// RetryMaxDelayDuration returns sync.retry_max_delay.
func (s SyncConfig) RetryMaxDelayDuration() time.Duration { return mustDuration(s.RetryMaxDelay) }

// MinSendIntervalDuration returns sync.min_send_interval.
func (s SyncConfig) MinSendIntervalDuration() time.Duration { return mustDuration(s.MinSendInterval) }

// TickIntervalDuration returns schedule.tick_interval.
func (s ScheduleConfig) TickIntervalDuration() time.Duration { return mustDuration(s.TickInterval) }

// Location loads schedule.timezone. It falls back to UTC for a name that
// does not resolve, which Validate rejects beforehand.
func (s ScheduleConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}

	return loc
}

// SlogLevel maps logging.log_level to a slog level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RegistryNodes converts the [node.<id>] sections into registry entries,
// sorted by id. Capabilities that fail to parse are skipped; Validate
// reports them.
func (c *Config) RegistryNodes() []registry.Node {
	out := make([]registry.Node, 0, len(c.Nodes))

	for _, id := range sortedNodeIDs(c.Nodes) {
		nc := c.Nodes[id]
		n := registry.Node{
			ID:        id,
			Name:      nc.Name,
			Online:    nc.Online,
			Transport: nc.Transport,
			Address:   nc.Address,
		}

		for _, raw := range nc.Capabilities {
			if capability, err := registry.ParseCapability(raw); err == nil {
				n.Capabilities = append(n.Capabilities, capability)
			}
		}

		out = append(out, n)
	}

	return out
}

func sortedNodeIDs(nodes map[string]NodeConfig) []string {
	return slices.Sorted(maps.Keys(nodes))
}
