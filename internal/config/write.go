package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write only: the file may carry gateway credentials.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// sectionHeaderPrefix starts every TOML table header. Used to detect
// section boundaries in line-based edits.
const sectionHeaderPrefix = "["

// configTemplate is the config file content written when `node add` runs
// without an existing file. All global settings are present as
// commented-out defaults so users can discover every option.
const configTemplate = `# pathsync configuration

# [store]
# backend = "sqlite"
# db_path = ""

# [sync]
# send_timeout = "10s"
# workers = 1
# max_attempts = 5
# retry_base_delay = "2s"
# retry_max_delay = "1m"
# min_send_interval = "0s"

# [schedule]
# timezone = "UTC"
# tick_interval = "30s"

# [logging]
# log_level = "info"
# log_format = "auto"

# [api]
# listen_addr = "127.0.0.1:8470"

# [transport.http]
# base_url = "https://gateway.local"
# max_retries = 3

# ── Nodes ──
# Added by 'pathsync node add'. Each section name is the node id.
`

var bareKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// nodeHeader returns the table name of a node section, quoting ids that are
// not valid bare keys.
func nodeHeader(id string) string {
	if bareKey.MatchString(id) {
		return nodeSection + "." + id
	}

	return fmt.Sprintf("%s.%q", nodeSection, id)
}

// nodeSectionText generates the TOML text for a new node section. The blank
// line before the header separates it from the previous section.
func nodeSectionText(id string, n NodeConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n[%s]\n", nodeHeader(id))

	if n.Name != "" {
		fmt.Fprintf(&b, "name = %q\n", n.Name)
	}

	fmt.Fprintf(&b, "capabilities = [%s]\n", joinQuoted(n.Capabilities))
	fmt.Fprintf(&b, "online = %t\n", n.Online)

	if n.Transport != "" {
		fmt.Fprintf(&b, "transport = %q\n", n.Transport)
	}

	if n.Address != "" {
		fmt.Fprintf(&b, "address = %q\n", n.Address)
	}

	return b.String()
}

// AppendNodeSection appends a new [node.<id>] section to the config file,
// creating the file from the default template when it does not exist. The
// write is atomic to avoid partial writes on crash.
func AppendNodeSection(path, id string, n NodeConfig) error {
	slog.Info("adding node section to config",
		slog.String("path", path),
		slog.String("node", id),
	)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		data, err = []byte(configTemplate), nil
	}

	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	content := string(data)

	if header, _ := findSectionHeader(strings.Split(content, "\n"), id); header >= 0 {
		return fmt.Errorf("node %q already exists in %s", id, path)
	}

	// Ensure the file ends with a newline before appending, so the new
	// section header starts on its own line.
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	content += nodeSectionText(id, n)

	return atomicWriteFile(path, []byte(content))
}

// SetNodeKey finds a node section and sets a key-value pair. If the key
// already exists within the section, its line is replaced. If not found,
// the key is inserted on the line after the section header. Used by
// `node online` / `node offline`.
//
// Value formatting: booleans ("true"/"false") are written without quotes;
// all other values are written as quoted strings.
func SetNodeKey(path, id, key, value string) error {
	slog.Info("setting node key in config",
		slog.String("path", path),
		slog.String("node", id),
		slog.String("key", key),
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, id)
	if sectionStart < 0 {
		return fmt.Errorf("node %q not found in config", id)
	}

	newLine := fmt.Sprintf("%s = %s", key, formatTOMLValue(value))
	lines = setKeyInSection(lines, headerLine, sectionStart, key, newLine)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// DeleteNodeSection removes a node section (header + all keys) from the
// config file, together with the blank lines immediately preceding it.
func DeleteNodeSection(path, id string) error {
	slog.Info("deleting node section from config",
		slog.String("path", path),
		slog.String("node", id),
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, id)
	if sectionStart < 0 {
		return fmt.Errorf("node %q not found in config", id)
	}

	sectionEnd := findSectionEnd(lines, sectionStart)

	blankStart := headerLine
	for blankStart > 0 && strings.TrimSpace(lines[blankStart-1]) == "" {
		blankStart--
	}

	lines = append(lines[:blankStart], lines[sectionEnd:]...)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findSectionHeader locates the line index of a node section header.
// Returns the header line index and the section content start (header + 1).
// Returns -1 for both if the section is not found.
func findSectionHeader(lines []string, id string) (int, int) {
	header := "[" + nodeHeader(id) + "]"

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i, i + 1
		}
	}

	return -1, -1
}

// findSectionEnd returns the index of the first line after the section's
// own content. Blank lines and comments that precede the next section
// header belong to the next section's preamble.
func findSectionEnd(lines []string, sectionStart int) int {
	nextHeader := len(lines)

	for i := sectionStart; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), sectionHeaderPrefix) {
			nextHeader = i

			break
		}
	}

	end := nextHeader
	for end > sectionStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// setKeyInSection either replaces an existing key line or inserts a new
// one after the section header.
func setKeyInSection(lines []string, headerLine, sectionStart int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, sectionStart)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines[i] = newLine

			return lines
		}
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// formatTOMLValue formats a value for TOML output. Booleans are written
// bare (true/false); all other values are quoted strings.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. Parent directories are created
// as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
