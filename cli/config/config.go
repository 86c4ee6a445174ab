package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/tether/journal"
	"github.com/pithecene-io/tether/log"
)

// Defaults match the environment defaults agents and operators already use.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 1911
	DefaultRecvSize       = 1024
	DefaultEncoding       = "utf-8"
	DefaultJournalFile    = "output"
	DefaultTimezone       = "UTC"
	DefaultKeyDir         = "keys"
	DefaultPrivateKeyName = "private.pem"
	DefaultAgentsFile     = "agents.json"
	DefaultOutputDir      = "."
	DefaultLogLevel       = "info"
)

// Config represents a tether.yaml configuration file.
// Environment variables override file values; CLI flags override both.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Output    OutputConfig    `yaml:"output"`
	Limits    LimitsConfig    `yaml:"limits"`
	Recording RecordingConfig `yaml:"recording"`
	Adapters  []AdapterConfig `yaml:"adapters"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig holds the agent listener settings.
type ListenConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	RecvSize       int      `yaml:"recv_size"`
	Encoding       string   `yaml:"encoding"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	MaxConnections int      `yaml:"max_connections"`
}

// Addr returns host:port.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// CryptoConfig selects RSA-OAEP transport decryption.
type CryptoConfig struct {
	Enabled        bool   `yaml:"enabled"`
	KeyDir         string `yaml:"key_dir"`
	PrivateKeyName string `yaml:"private_key_name"`
}

// PrivateKeyPath joins KeyDir and PrivateKeyName.
func (c CryptoConfig) PrivateKeyPath() string {
	return filepath.Join(c.KeyDir, c.PrivateKeyName)
}

// OutputConfig controls where received data is written.
type OutputConfig struct {
	// Dir receives reconstructed files, screenshots and videos.
	Dir string `yaml:"dir"`
	// Journal is the message journal file.
	Journal  string `yaml:"journal"`
	Format   string `yaml:"format"`
	Timezone string `yaml:"timezone"`
	Actor    string `yaml:"actor"`
	// AgentsFile is the persistent agent directory.
	AgentsFile string `yaml:"agents_file"`
}

// LimitsConfig bounds in-memory reassembly. Zero values use package defaults.
type LimitsConfig struct {
	MaxTransferBytes  int64 `yaml:"max_transfer_bytes"`
	MaxChunks         int   `yaml:"max_chunks"`
	MaxFrames         int   `yaml:"max_frames"`
	MaxRecordingBytes int64 `yaml:"max_recording_bytes"`
	MaxPendingBytes   int   `yaml:"max_pending_bytes"`
}

// RecordingConfig configures video encoding.
type RecordingConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	TempDir    string `yaml:"temp_dir"`
}

// AdapterConfig configures one notification adapter.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Mode    string            `yaml:"mode,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Secret  string            `yaml:"secret,omitempty"`
	Events  []string          `yaml:"events,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Host:     DefaultHost,
			Port:     DefaultPort,
			RecvSize: DefaultRecvSize,
			Encoding: DefaultEncoding,
		},
		Crypto: CryptoConfig{
			KeyDir:         DefaultKeyDir,
			PrivateKeyName: DefaultPrivateKeyName,
		},
		Output: OutputConfig{
			Dir:        DefaultOutputDir,
			Journal:    DefaultJournalFile,
			Format:     string(journal.FormatCLF),
			Timezone:   DefaultTimezone,
			AgentsFile: DefaultAgentsFile,
		},
		LogLevel: DefaultLogLevel,
	}
}

// ApplyEnv overrides cfg from environment variables. Unset or empty
// variables leave the current value.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}

	str("LHOST", &c.Listen.Host)
	num("LPORT", &c.Listen.Port)
	num("RECV_SIZE", &c.Listen.RecvSize)
	str("ENCODING", &c.Listen.Encoding)
	str("OUT_FILE", &c.Output.Journal)
	str("OUTPUT_FORMAT", &c.Output.Format)
	str("OUTPUT_TIMEZONE", &c.Output.Timezone)
	str("OUTPUT_DIR", &c.Output.Dir)
	str("KEY_DIR", &c.Crypto.KeyDir)
	str("PRIVATE_KEY_NAME", &c.Crypto.PrivateKeyName)
	str("AGENTS_JSON", &c.Output.AgentsFile)
	str("LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("TLS"); ok && v != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("TLS: %q is not a boolean", v))
		} else {
			c.Crypto.Enabled = enabled
		}
	}
	return errors.Join(errs...)
}

// Validate checks the configuration. It returns non-fatal warnings
// alongside any error.
func (c *Config) Validate() ([]string, error) {
	var warnings []string
	var errs []error

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Listen.Port))
	} else if c.Listen.Port < 1024 {
		warnings = append(warnings, fmt.Sprintf("port %d is privileged and may require elevated permissions", c.Listen.Port))
	}
	if c.Listen.RecvSize <= 0 {
		errs = append(errs, fmt.Errorf("recv_size must be positive, got %d", c.Listen.RecvSize))
	}
	if !isUTF8(c.Listen.Encoding) {
		errs = append(errs, fmt.Errorf("encoding %q not supported (only utf-8)", c.Listen.Encoding))
	}
	if _, err := journal.ParseFormat(c.Output.Format); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Crypto.Enabled && strings.TrimSpace(c.Crypto.PrivateKeyName) == "" {
		errs = append(errs, errors.New("encryption enabled but no private key name configured"))
	}
	if !c.Crypto.Enabled {
		warnings = append(warnings, "transport encryption is disabled; agent traffic is read in plaintext")
	}
	for i, a := range c.Adapters {
		if err := a.validate(); err != nil {
			errs = append(errs, fmt.Errorf("adapters[%d]: %w", i, err))
		}
	}

	return warnings, errors.Join(errs...)
}

// Location loads the journal time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Output.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Output.Timezone, err)
	}
	return loc, nil
}

func (a AdapterConfig) validate() error {
	switch a.Type {
	case "redis", "webhook":
	default:
		return fmt.Errorf("unknown adapter type %q (want redis or webhook)", a.Type)
	}
	if a.URL == "" {
		return fmt.Errorf("%s adapter requires a url", a.Type)
	}
	if a.Retries != nil && *a.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", *a.Retries)
	}
	return nil
}

func isUTF8(enc string) bool {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "utf-8", "utf8":
		return true
	default:
		return false
	}
}
