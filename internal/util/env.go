// Package util holds small helpers for reading the receptionist's
// environment switches, such as the debug-logging toggle.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean switch from the environment. An unset variable
// yields the default; recognized spellings are true/1/yes/on and
// false/0/no/off in any case. Anything else logs a warning and yields the
// default rather than failing startup.
func ParseBoolEnv(key string, defaultValue bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	case "":
		return defaultValue
	default:
		slog.Warn("unrecognized boolean environment value, keeping default",
			"key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
}
