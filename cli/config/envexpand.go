// Package config loads tether.yaml, .env files and environment overrides.
package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// - ${VAR} expands to the env var value, or empty string if unset
// - ${VAR:-default} expands to the env var value, or "default" if unset/empty
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// ExpandEnv replaces ${VAR} and ${VAR:-default} patterns in the input string
// with values from the process environment.
//
// Unset variables without defaults expand to empty string (not an error);
// required values fail later in Validate.
func ExpandEnv(input string) string {
	return ExpandEnvWith(input, os.LookupEnv)
}

// ExpandEnvWith is ExpandEnv over an arbitrary lookup.
func ExpandEnvWith(input string, lookup LookupFunc) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}

		if value, ok := lookup(groups[1]); ok && value != "" {
			return value
		}
		if len(groups) >= 3 && groups[2] != "" {
			return groups[2]
		}
		return ""
	})
}
