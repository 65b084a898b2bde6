package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gatemesh/pathsync/internal/registry"
)

// Validation range constants.
const (
	minWorkers        = 1
	maxWorkers        = 64
	minMaxAttempts    = 1
	minSendTimeout    = 100 * time.Millisecond
	minTickInterval   = time.Second
	maxHTTPMaxRetries = 10
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateSchedule(&cfg.Schedule)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateTransport(&cfg.Transport)...)
	errs = append(errs, validateNodes(cfg.Nodes)...)

	return errors.Join(errs...)
}

func validateStore(s *StoreConfig) []error {
	switch s.Backend {
	case "sqlite":
		if s.DBPath == "" {
			return []error{errors.New("store.db_path: must not be empty for the sqlite backend")}
		}
	case "memory":
	default:
		return []error{fmt.Errorf("store.backend: must be one of sqlite, memory; got %q", s.Backend)}
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("sync.send_timeout", s.SendTimeout, minSendTimeout)...)
	errs = append(errs, validateDurationNonNeg("sync.retry_base_delay", s.RetryBaseDelay)...)
	errs = append(errs, validateDurationNonNeg("sync.retry_max_delay", s.RetryMaxDelay)...)
	errs = append(errs, validateDurationNonNeg("sync.min_send_interval", s.MinSendInterval)...)

	if s.Workers < minWorkers || s.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("sync.workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, s.Workers))
	}

	if s.MaxAttempts < minMaxAttempts {
		errs = append(errs, fmt.Errorf("sync.max_attempts: must be >= %d, got %d",
			minMaxAttempts, s.MaxAttempts))
	}

	base, errBase := time.ParseDuration(s.RetryBaseDelay)
	limit, errMax := time.ParseDuration(s.RetryMaxDelay)

	if errBase == nil && errMax == nil && limit < base {
		errs = append(errs, fmt.Errorf("sync.retry_max_delay: %s is below retry_base_delay %s", limit, base))
	}

	return errs
}

func validateSchedule(s *ScheduleConfig) []error {
	var errs []error

	if _, err := time.LoadLocation(s.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}

	errs = append(errs, validateDurationMin("schedule.tick_interval", s.TickInterval, minTickInterval)...)

	return errs
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

var validLogFormats = []string{"auto", "text", "json"}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.LogLevel) {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of %s; got %q",
			strings.Join(validLogLevels, ", "), l.LogLevel))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of %s; got %q",
			strings.Join(validLogFormats, ", "), l.LogFormat))
	}

	return errs
}

func validateAPI(a *APIConfig) []error {
	if a.ListenAddr == "" {
		return []error{errors.New("api.listen_addr: must not be empty")}
	}

	return nil
}

func validateTransport(t *TransportConfig) []error {
	var errs []error

	h := &t.HTTP

	if h.BaseURL != "" {
		errs = append(errs, validateURL("transport.http.base_url", h.BaseURL, "http", "https")...)
	}

	if h.TokenURL != "" {
		errs = append(errs, validateURL("transport.http.token_url", h.TokenURL, "http", "https")...)

		if h.ClientID == "" {
			errs = append(errs, errors.New("transport.http.client_id: required with token_url"))
		}

		if h.Token != "" {
			errs = append(errs, errors.New("transport.http: token and token_url are mutually exclusive"))
		}
	}

	if h.MaxRetries < 0 || h.MaxRetries > maxHTTPMaxRetries {
		errs = append(errs, fmt.Errorf("transport.http.max_retries: must be between 0 and %d, got %d",
			maxHTTPMaxRetries, h.MaxRetries))
	}

	if t.WebSocket.URL != "" {
		errs = append(errs, validateURL("transport.websocket.url", t.WebSocket.URL, "ws", "wss")...)
	}

	return errs
}

func validateURL(field, raw string, schemes ...string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if !slices.Contains(schemes, u.Scheme) || u.Host == "" {
		return []error{fmt.Errorf("%s: want a %s URL, got %q", field, strings.Join(schemes, "/"), raw)}
	}

	return nil
}

var validNodeTransports = []string{"", "http", "websocket", "serial"}

func validateNodes(nodes map[string]NodeConfig) []error {
	var errs []error

	for _, id := range sortedNodeIDs(nodes) {
		n := nodes[id]

		if strings.TrimSpace(id) == "" {
			errs = append(errs, errors.New("node: id must not be empty"))
		}

		for _, c := range n.Capabilities {
			if _, err := registry.ParseCapability(c); err != nil {
				errs = append(errs, fmt.Errorf("node.%s.capabilities: %w", id, err))
			}
		}

		if !slices.Contains(validNodeTransports, n.Transport) {
			errs = append(errs, fmt.Errorf("node.%s.transport: must be one of http, websocket, serial; got %q",
				id, n.Transport))
		}
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	return validateDurationMin(field, value, 0)
}
