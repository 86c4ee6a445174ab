package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/config"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/registry"
	"github.com/pithecene-io/tether/types"
	"github.com/pithecene-io/tether/wire"
)

func newTestApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "tether",
		Writer:    out,
		ErrWriter: io.Discard,
		Commands: []*cli.Command{
			ServeCommand(),
			AgentsCommand(),
			StatsCommand(),
			KeygenCommand(),
			VersionCommand("abc123"),
		},
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestVersionCommand_JSON(t *testing.T) {
	var out bytes.Buffer
	if err := newTestApp(&out).Run([]string{"tether", "version", "--format", "json"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var got VersionResponse
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if got.Version != types.Version {
		t.Errorf("Version = %q, want %q", got.Version, types.Version)
	}
	if got.Commit != "abc123" {
		t.Errorf("Commit = %q, want abc123", got.Commit)
	}
}

func TestVersionCommand_RejectsTUI(t *testing.T) {
	err := newTestApp(io.Discard).Run([]string{"tether", "version", "--tui"})
	if err == nil {
		t.Fatal("expected error for --tui on version")
	}
	if exit, ok := err.(cli.ExitCoder); !ok || exit.ExitCode() != exitFailure {
		t.Errorf("err = %v, want exit code %d", err, exitFailure)
	}
}

func TestAgentsCommand_ListsAndFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.json")
	dir := registry.NewDirectory(path)
	for _, rec := range []types.AgentRecord{
		{Addr: "10.0.0.1", Roles: []string{"agent"}},
		{Addr: "10.0.0.2", Roles: []string{"agent", "keylogger"}},
	} {
		if _, err := dir.Record(rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	var out bytes.Buffer
	args := []string{"tether", "agents", "--format", "json", "--agents-file", path, "--role", "keylogger"}
	if err := newTestApp(&out).Run(args); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var got []types.AgentRecord
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if len(got) != 1 || got[0].Addr != "10.0.0.2" {
		t.Errorf("agents = %+v, want only 10.0.0.2", got)
	}
}

func TestAgentsCommand_MissingFileIsEmpty(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "none.json")
	if err := newTestApp(&out).Run([]string{"tether", "agents", "-f", "table", "--agents-file", path}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(out.String(), "(no results)") {
		t.Errorf("output = %q, want (no results)", out.String())
	}
}

func TestKeygenCommand_WritesPair(t *testing.T) {
	keyDir := t.TempDir()
	t.Setenv("KEY_DIR", keyDir)

	var out bytes.Buffer
	if err := newTestApp(&out).Run([]string{"tether", "keygen", "--bits", "1024"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, name := range []string{config.DefaultPrivateKeyName, "public.pem"} {
		if _, err := os.Stat(filepath.Join(keyDir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if !strings.Contains(out.String(), "max plaintext per block: 86 bytes") {
		t.Errorf("output = %q", out.String())
	}

	err := newTestApp(io.Discard).Run([]string{"tether", "keygen", "--bits", "1024"})
	if err == nil {
		t.Error("second keygen without --force should fail")
	}
}

func TestBuildAdapters(t *testing.T) {
	zero := 0
	tests := []struct {
		name    string
		cfgs    []config.AdapterConfig
		want    int
		wantErr bool
	}{
		{"none", nil, 0, false},
		{"webhook", []config.AdapterConfig{{Type: "webhook", URL: "http://localhost/hook"}}, 1, false},
		{"redis", []config.AdapterConfig{{Type: "redis", URL: "redis://localhost:6379", Retries: &zero}}, 1, false},
		{"both", []config.AdapterConfig{
			{Type: "webhook", URL: "http://localhost/hook", Events: []string{"file_received"}},
			{Type: "redis", URL: "redis://localhost:6379", Mode: "stream"},
		}, 2, false},
		{"unknown type", []config.AdapterConfig{{Type: "kafka", URL: "x"}}, 0, true},
		{"bad redis mode", []config.AdapterConfig{{Type: "redis", URL: "redis://localhost:6379", Mode: "queue"}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildAdapters(tt.cfgs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildAdapters error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("adapters = %d, want %d", len(got), tt.want)
			}
			for _, a := range got {
				_ = a.Close()
			}
		})
	}
}

func TestMetricsURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":9100", "http://localhost:9100/metrics"},
		{"0.0.0.0:9100", "http://localhost:9100/metrics"},
		{"10.1.2.3:9100", "http://10.1.2.3:9100/metrics"},
		{"[::]:9100", "http://localhost:9100/metrics"},
	}
	for _, tt := range tests {
		if got := metricsURL(tt.addr); got != tt.want {
			t.Errorf("metricsURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Output.Journal = filepath.Join(dir, "output")
	cfg.Output.AgentsFile = filepath.Join(dir, "agents.json")
	cfg.Metrics.Addr = "127.0.0.1:0"
	return cfg
}

func TestServerStack_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	stack, err := buildStack(cfg, log.NewNop())
	if err != nil {
		t.Fatalf("buildStack failed: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- stack.run(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	for _, msg := range []types.Message{
		types.TextMessage{Content: "hello from agent"},
		types.FileTransfer{Filename: "notes.txt", FileData: base64.StdEncoding.EncodeToString([]byte("FOOBAR"))},
	} {
		data, err := wire.Encode(msg)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if _, err := conn.Write(data); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	waitFor(t, func() bool { return stack.collector.Snapshot().FilesSaved == 1 })

	snap := scrape(t, stack)
	if snap.MessagesByType["text"] != 1 || snap.ConnectionsAccepted != 1 {
		t.Errorf("scraped snapshot = %+v", snap)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if err := stack.shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	saved, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "127.0.0.1_notes.txt"))
	if err != nil {
		t.Fatalf("saved file missing: %v", err)
	}
	if string(saved) != "FOOBAR" {
		t.Errorf("saved = %q, want FOOBAR", saved)
	}

	journalData, err := os.ReadFile(cfg.Output.Journal)
	if err != nil {
		t.Fatalf("journal missing: %v", err)
	}
	if !strings.Contains(string(journalData), `"hello from agent"`) {
		t.Errorf("journal = %q", journalData)
	}

	records, err := stack.directory.Load()
	if err != nil {
		t.Fatalf("directory Load failed: %v", err)
	}
	if len(records) != 1 || records[0].Addr != "127.0.0.1" {
		t.Errorf("directory = %+v, want one 127.0.0.1 record", records)
	}
}

func TestBuildStack_MissingKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Crypto.Enabled = true
	cfg.Crypto.KeyDir = t.TempDir()

	if _, err := buildStack(cfg, log.NewNop()); err == nil {
		t.Fatal("expected error when the private key is missing")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func scrape(t *testing.T, stack *serverStack) metrics.Snapshot {
	t.Helper()
	if stack.metricsServer == nil {
		t.Fatal("metrics server not started")
	}
	snap, err := fetchSnapshot(t.Context(), metricsURL(stack.metricsAddr))
	if err != nil {
		t.Fatalf("fetchSnapshot failed: %v", err)
	}
	return snap
}
