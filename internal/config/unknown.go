package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// nodeSection is the table holding per-node sections.
const nodeSection = "node"

// knownSectionKeys lists the valid keys of every fixed section, keyed by
// the dotted section name.
var knownSectionKeys = map[string][]string{
	"store":               {"backend", "db_path"},
	"sync":                {"send_timeout", "workers", "max_attempts", "retry_base_delay", "retry_max_delay", "min_send_interval"},
	"schedule":            {"timezone", "tick_interval"},
	"logging":             {"log_level", "log_format"},
	"api":                 {"listen_addr"},
	"transport.http":      {"base_url", "token", "token_url", "client_id", "client_secret", "max_retries"},
	"transport.websocket": {"url"},
	"transport.serial":    {"device"},
}

// knownNodeKeys are the valid keys inside a [node.<id>] section.
var knownNodeKeys = []string{"name", "capabilities", "online", "transport", "address"}

// knownSections is the sorted list of top-level table names.
var knownSections = []string{"api", "logging", nodeSection, "schedule", "store", "sync", "transport"}

// knownTransports is the sorted list of [transport.*] sub-tables.
var knownTransports = []string{"http", "serial", "websocket"}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	// An unknown table is reported once, not once per key inside it.
	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	switch {
	case len(key) == 1:
		return suggest("unknown config section", key[0], knownSections)

	case key[0] == nodeSection:
		if len(key) < 3 {
			return fmt.Errorf("node %q: must be a table ([node.%s])", key[1], key[1])
		}

		return suggest(fmt.Sprintf("unknown key in [node.%s]", key[1]), key[2], knownNodeKeys)

	case key[0] == "transport":
		if !slices.Contains(knownTransports, key[1]) {
			return suggest("unknown transport section", key[1], knownTransports)
		}

		if len(key) < 3 {
			return nil
		}

		return suggest(fmt.Sprintf("unknown key in [transport.%s]", key[1]), key[2],
			knownSectionKeys["transport."+key[1]])
	}

	known, ok := knownSectionKeys[key[0]]
	if !ok {
		return suggest("unknown config section", key[0], knownSections)
	}

	return suggest(fmt.Sprintf("unknown config key in [%s]", key[0]), strings.Join(key[1:], "."), known)
}

func suggest(prefix, name string, known []string) error {
	if s := closestMatch(name, known); s != "" {
		return fmt.Errorf("%s %q: did you mean %q?", prefix, name, s)
	}

	return fmt.Errorf("%s %q", prefix, name)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
