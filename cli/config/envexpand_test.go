package config

import (
	"testing"
)

func TestExpandEnv_SetVar(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")

	got := ExpandEnv("value: ${TEST_VAR}")
	want := "value: hello"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandEnvWith(t *testing.T) {
	env := map[string]string{
		"LHOST":  "0.0.0.0",
		"LPORT":  "4444",
		"EMPTY":  "",
		"SECRET": "s3cret",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "host: ${LHOST}", "host: 0.0.0.0"},
		{"unset", "host: ${NOPE}", "host: "},
		{"default when unset", "port: ${NOPE:-1911}", "port: 1911"},
		{"default ignored when set", "port: ${LPORT:-1911}", "port: 4444"},
		{"default when empty", "x: ${EMPTY:-fallback}", "x: fallback"},
		{"multiple", "${LHOST}:${LPORT}", "0.0.0.0:4444"},
		{"no vars", "plain text", "plain text"},
		{"bare dollar untouched", "cost: $5", "cost: $5"},
		{
			"nested in yaml",
			"adapters:\n  - type: webhook\n    secret: ${SECRET}",
			"adapters:\n  - type: webhook\n    secret: s3cret",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnvWith(tt.input, lookup); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
