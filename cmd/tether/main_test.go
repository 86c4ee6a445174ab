package main

import (
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitErrHandler_NilError(t *testing.T) {
	// Should not panic or exit on nil error
	exitErrHandler(nil, nil)
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"exit code 0 no message", cli.Exit("", 0), 0, ""},
		{"runtime failure", cli.Exit("listen :1911: address in use", 1), 1, "listen :1911: address in use"},
		{"config error", cli.Exit("invalid configuration: port 0 out of range 1-65535", 2), 2, "invalid configuration: port 0 out of range 1-65535"},
		{"wrapped exit coder", errors.Join(errors.New("context"), cli.Exit("inner error", 42)), 42, "inner error"},
		{"regular error", errors.New("boom"), 1, "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := exitStatus(tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if msg != tt.wantMsg {
				t.Errorf("msg = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()
	want := []string{"serve", "agents", "stats", "keygen", "version"}
	if len(app.Commands) != len(want) {
		t.Fatalf("commands = %d, want %d", len(app.Commands), len(want))
	}
	for i, name := range want {
		if app.Commands[i].Name != name {
			t.Errorf("Commands[%d] = %q, want %q", i, app.Commands[i].Name, name)
		}
	}
}
