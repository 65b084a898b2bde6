package config

import (
	"fmt"
	"io"
	"strings"
)

// redacted replaces secrets in rendered output.
const redacted = "********"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// have been applied. Secrets are masked.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[store]\n")
	ew.printf("  backend = %q\n", cfg.Store.Backend)
	ew.printf("  db_path = %q\n\n", cfg.Store.DBPath)

	s := &cfg.Sync
	ew.printf("[sync]\n")
	ew.printf("  send_timeout      = %q\n", s.SendTimeout)
	ew.printf("  workers           = %d\n", s.Workers)
	ew.printf("  max_attempts      = %d\n", s.MaxAttempts)
	ew.printf("  retry_base_delay  = %q\n", s.RetryBaseDelay)
	ew.printf("  retry_max_delay   = %q\n", s.RetryMaxDelay)
	ew.printf("  min_send_interval = %q\n\n", s.MinSendInterval)

	ew.printf("[schedule]\n")
	ew.printf("  timezone      = %q\n", cfg.Schedule.Timezone)
	ew.printf("  tick_interval = %q\n\n", cfg.Schedule.TickInterval)

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", cfg.Logging.LogFormat)

	ew.printf("[api]\n")
	ew.printf("  listen_addr = %q\n\n", cfg.API.ListenAddr)

	renderTransportSection(ew, &cfg.Transport)

	for _, id := range sortedNodeIDs(cfg.Nodes) {
		n := cfg.Nodes[id]
		ew.printf("[%s]\n", nodeHeader(id))
		ew.printf("  name         = %q\n", n.Name)
		ew.printf("  capabilities = [%s]\n", joinQuoted(n.Capabilities))
		ew.printf("  online       = %t\n", n.Online)
		ew.printf("  transport    = %q\n", n.Transport)
		ew.printf("  address      = %q\n\n", n.Address)
	}

	return ew.err
}

func renderTransportSection(ew *errWriter, t *TransportConfig) {
	h := &t.HTTP
	ew.printf("[transport.http]\n")
	ew.printf("  base_url      = %q\n", h.BaseURL)
	ew.printf("  token         = %q\n", mask(h.Token))
	ew.printf("  token_url     = %q\n", h.TokenURL)
	ew.printf("  client_id     = %q\n", h.ClientID)
	ew.printf("  client_secret = %q\n", mask(h.ClientSecret))
	ew.printf("  max_retries   = %d\n\n", h.MaxRetries)

	ew.printf("[transport.websocket]\n")
	ew.printf("  url = %q\n\n", t.WebSocket.URL)

	ew.printf("[transport.serial]\n")
	ew.printf("  device = %q\n\n", t.Serial.Device)
}

// Redacted returns a copy of cfg with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Transport.HTTP.Token = mask(c.Transport.HTTP.Token)
	out.Transport.HTTP.ClientSecret = mask(c.Transport.HTTP.ClientSecret)

	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}

	return redacted
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}
