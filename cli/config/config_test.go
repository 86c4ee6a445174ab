package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func assertEqual[T comparable](t *testing.T, field string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %v, want %v", field, got, want)
	}
}

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("TETHER_WEBHOOK_SECRET", "hunter2")
	path := writeTemp(t, "tether.yaml", `listen:
  host: 0.0.0.0
  port: 4444
  recv_size: 4096
  idle_timeout: 5m
  write_timeout: 10s
  max_connections: 64

crypto:
  enabled: true
  key_dir: /etc/tether/keys
  private_key_name: server.pem

output:
  dir: /var/lib/tether
  journal: /var/log/tether/journal.log
  format: json
  timezone: America/New_York
  actor: ops
  agents_file: /var/lib/tether/agents.json

limits:
  max_transfer_bytes: 1048576
  max_chunks: 1000
  max_frames: 500

recording:
  ffmpeg_path: /usr/local/bin/ffmpeg

adapters:
  - type: redis
    url: redis://localhost:6379/0
    mode: stream
  - type: webhook
    url: https://hooks.example.com/tether
    secret: ${TETHER_WEBHOOK_SECRET}
    events: [file_received]
    timeout: 3s
    retries: 1

metrics:
  addr: 127.0.0.1:9090

log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "listen.addr", cfg.Listen.Addr(), "0.0.0.0:4444")
	assertEqual(t, "listen.recv_size", cfg.Listen.RecvSize, 4096)
	assertEqual(t, "listen.encoding", cfg.Listen.Encoding, DefaultEncoding)
	assertEqual(t, "listen.idle_timeout", cfg.Listen.IdleTimeout.Duration, 5*time.Minute)
	assertEqual(t, "listen.max_connections", cfg.Listen.MaxConnections, 64)
	assertEqual(t, "crypto.enabled", cfg.Crypto.Enabled, true)
	assertEqual(t, "crypto.key_path", cfg.Crypto.PrivateKeyPath(), "/etc/tether/keys/server.pem")
	assertEqual(t, "output.format", cfg.Output.Format, "json")
	assertEqual(t, "output.actor", cfg.Output.Actor, "ops")
	assertEqual(t, "limits.max_chunks", cfg.Limits.MaxChunks, 1000)
	assertEqual(t, "recording.ffmpeg_path", cfg.Recording.FFmpegPath, "/usr/local/bin/ffmpeg")
	assertEqual(t, "metrics.addr", cfg.Metrics.Addr, "127.0.0.1:9090")
	assertEqual(t, "log_level", cfg.LogLevel, "debug")

	if len(cfg.Adapters) != 2 {
		t.Fatalf("adapters = %d, want 2", len(cfg.Adapters))
	}
	wh := cfg.Adapters[1]
	assertEqual(t, "webhook.secret", wh.Secret, "hunter2")
	assertEqual(t, "webhook.timeout", wh.Timeout.Duration, 3*time.Second)
	if wh.Retries == nil || *wh.Retries != 1 {
		t.Errorf("webhook.retries = %v, want 1", wh.Retries)
	}
	if len(wh.Events) != 1 || wh.Events[0] != "file_received" {
		t.Errorf("webhook.events = %v", wh.Events)
	}

	if _, err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "listen.addr", cfg.Listen.Addr(), "localhost:1911")
	assertEqual(t, "recv_size", cfg.Listen.RecvSize, DefaultRecvSize)
	assertEqual(t, "journal", cfg.Output.Journal, DefaultJournalFile)
	assertEqual(t, "agents_file", cfg.Output.AgentsFile, DefaultAgentsFile)
	assertEqual(t, "crypto.enabled", cfg.Crypto.Enabled, false)
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := writeTemp(t, "tether.yaml", "listen:\n  port: 8443\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "port", cfg.Listen.Port, 8443)
	assertEqual(t, "host", cfg.Listen.Host, DefaultHost)
	assertEqual(t, "timezone", cfg.Output.Timezone, DefaultTimezone)
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil ||
		!strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file error = %v", err)
	}

	bad := writeTemp(t, "bad.yaml", "listen: [unclosed")
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("bad YAML error = %v", err)
	}

	badDur := writeTemp(t, "dur.yaml", "listen:\n  idle_timeout: soon\n")
	if _, err := Load(badDur); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"LHOST":            "10.0.0.1",
		"LPORT":            "5555",
		"RECV_SIZE":        "2048",
		"OUT_FILE":         "journal.txt",
		"OUTPUT_FORMAT":    "JSON",
		"OUTPUT_TIMEZONE":  "Europe/Madrid",
		"KEY_DIR":          "/keys",
		"PRIVATE_KEY_NAME": "priv.pem",
		"TLS":              "True",
		"AGENTS_JSON":      "/data/agents.json",
		"LOG_LEVEL":        "warn",
		"ENCODING":         "",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	assertEqual(t, "addr", cfg.Listen.Addr(), "10.0.0.1:5555")
	assertEqual(t, "recv_size", cfg.Listen.RecvSize, 2048)
	assertEqual(t, "encoding", cfg.Listen.Encoding, DefaultEncoding)
	assertEqual(t, "journal", cfg.Output.Journal, "journal.txt")
	assertEqual(t, "format", cfg.Output.Format, "JSON")
	assertEqual(t, "key", cfg.Crypto.PrivateKeyPath(), "/keys/priv.pem")
	assertEqual(t, "tls", cfg.Crypto.Enabled, true)
	assertEqual(t, "agents", cfg.Output.AgentsFile, "/data/agents.json")
	assertEqual(t, "log_level", cfg.LogLevel, "warn")

	if _, err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"LPORT": "eleven",
		"TLS":   "maybe",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"LPORT", "TLS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
	assertEqual(t, "port unchanged", cfg.Listen.Port, DefaultPort)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantErr  string
		wantWarn string
	}{
		{"defaults", func(*Config) {}, "", "encryption is disabled"},
		{"port zero", func(c *Config) { c.Listen.Port = 0 }, "out of range", ""},
		{"port too high", func(c *Config) { c.Listen.Port = 70000 }, "out of range", ""},
		{"privileged port", func(c *Config) { c.Listen.Port = 443 }, "", "privileged"},
		{"encoding", func(c *Config) { c.Listen.Encoding = "latin-1" }, "only utf-8", ""},
		{"format", func(c *Config) { c.Output.Format = "xml" }, "unknown journal format", ""},
		{"timezone", func(c *Config) { c.Output.Timezone = "Mars/Olympus" }, "invalid timezone", ""},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level", ""},
		{"key name", func(c *Config) {
			c.Crypto.Enabled = true
			c.Crypto.PrivateKeyName = ""
		}, "no private key", ""},
		{"adapter type", func(c *Config) {
			c.Adapters = []AdapterConfig{{Type: "kafka", URL: "x"}}
		}, "unknown adapter type", ""},
		{"adapter url", func(c *Config) {
			c.Adapters = []AdapterConfig{{Type: "webhook"}}
		}, "requires a url", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			warnings, err := cfg.Validate()

			if tt.wantErr == "" && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
			if tt.wantWarn != "" && !strings.Contains(strings.Join(warnings, "\n"), tt.wantWarn) {
				t.Errorf("warnings = %v, want containing %q", warnings, tt.wantWarn)
			}
		})
	}
}

func TestResolve_Precedence(t *testing.T) {
	dotenv := writeTemp(t, ".env", "LPORT=7000\nOUTPUT_TIMEZONE=Asia/Tokyo\n")
	file := writeTemp(t, "tether.yaml", "listen:\n  port: 6000\n  host: filehost\n")

	// Unset before Resolve so godotenv can set it; t.Setenv restores afterwards.
	t.Setenv("LPORT", "")
	_ = os.Unsetenv("LPORT")
	t.Setenv("OUTPUT_TIMEZONE", "")
	_ = os.Unsetenv("OUTPUT_TIMEZONE")
	t.Setenv("LHOST", "envhost")

	cfg, err := Resolve(file, dotenv, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	assertEqual(t, "host (env beats file)", cfg.Listen.Host, "envhost")
	assertEqual(t, "port (.env beats file)", cfg.Listen.Port, 7000)
	assertEqual(t, "timezone", cfg.Output.Timezone, "Asia/Tokyo")
}
