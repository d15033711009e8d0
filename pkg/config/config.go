// Package config loads yuha client and agent settings from YAML or TOML.
//
// The format is chosen by file extension: .yaml and .yml use YAML, .toml
// uses TOML. Keys missing from the file keep their Default values; unknown
// keys are an error.
//
//	transport:
//	  kind: ssh
//	  ssh:
//	    host: devbox
//	    user: alice
//	    key_path: ~/.ssh/id_ed25519
//	reconnect:
//	  initial: 500ms
//	  max: 30s
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/yuha-project/yuha-go/pkg/connection"
	"github.com/yuha-project/yuha-go/pkg/transport"
)

// ErrUnknownFormat is returned for files that are neither YAML nor TOML.
var ErrUnknownFormat = errors.New("unknown config format")

// Duration is a time.Duration written as "30s" or "1m30s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the full settings file.
type Config struct {
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Reconnect ReconnectConfig `yaml:"reconnect" toml:"reconnect"`
	Agent     AgentConfig     `yaml:"agent" toml:"agent"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ReconnectConfig controls the connection manager.
type ReconnectConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	Initial        Duration `yaml:"initial" toml:"initial"`
	Max            Duration `yaml:"max" toml:"max"`
	Multiplier     float64  `yaml:"multiplier" toml:"multiplier"`
	Jitter         float64  `yaml:"jitter" toml:"jitter"`
	MaxAttempts    int      `yaml:"max_attempts" toml:"max_attempts"`
	AttemptTimeout Duration `yaml:"attempt_timeout" toml:"attempt_timeout"`
}

// AgentConfig controls yuha-agent when it listens on TCP.
type AgentConfig struct {
	Listen    string    `yaml:"listen" toml:"listen"`
	Advertise bool      `yaml:"advertise" toml:"advertise"`
	Instance  string    `yaml:"instance" toml:"instance"`
	Interface string    `yaml:"interface" toml:"interface"`
	TLS       TLSConfig `yaml:"tls" toml:"tls"`
}

// LogConfig controls operational and protocol logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" toml:"level"`

	// Format is text or json.
	Format string `yaml:"format" toml:"format"`

	// ProtocolLog is a path for captured protocol events. Empty disables
	// capture.
	ProtocolLog string `yaml:"protocol_log" toml:"protocol_log"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `yaml:"addr" toml:"addr"`
}

// Default returns the built-in settings.
func Default() Config {
	b := connection.DefaultBackoffConfig()
	return Config{
		Transport: TransportConfig{
			Kind:           transport.KindLocal.String(),
			ConnectTimeout: Duration(transport.DefaultConnectTimeout),
			SSH:            SSHConfig{Binary: transport.DefaultAgentBinary},
			Local:          LocalConfig{Binary: transport.DefaultAgentBinary},
			WSL:            WSLConfig{Binary: transport.DefaultAgentBinary},
		},
		Reconnect: ReconnectConfig{
			Enabled:        true,
			Initial:        Duration(b.Initial),
			Max:            Duration(b.Max),
			Multiplier:     b.Multiplier,
			Jitter:         b.Jitter,
			AttemptTimeout: Duration(connection.DefaultAttemptTimeout),
		},
		Agent: AgentConfig{
			Listen: fmt.Sprintf(":%d", transport.DefaultPort),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// Read reads path over the defaults without validating, for callers that
// apply overrides first.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Decode(data, Format(path))
	if err != nil {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// Format returns "yaml" or "toml" for path, or "" if unknown.
func Format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return ""
	}
}

// Parse decodes data in the given format over the defaults and validates
// the result.
func Parse(data []byte, format string) (Config, error) {
	cfg, err := Decode(data, format)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode decodes data in the given format over the defaults.
func Decode(data []byte, format string) (Config, error) {
	cfg := Default()

	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	case "toml":
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("parse toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("parse toml: unknown key %q", undecoded[0].String())
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Transport.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Reconnect.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Agent.TLS.Enabled && (c.Agent.TLS.CertFile == "" || c.Agent.TLS.KeyFile == "") {
		errs = append(errs, &transport.ConfigurationError{Reason: "agent.tls requires cert_file and key_file"})
	}
	return errors.Join(errs...)
}

// Validate checks the reconnect parameters.
func (r ReconnectConfig) Validate() error {
	switch {
	case r.Initial < 0 || r.Max < 0 || r.AttemptTimeout < 0:
		return &transport.ConfigurationError{Reason: "reconnect durations must not be negative"}
	case r.Max > 0 && r.Initial > r.Max:
		return &transport.ConfigurationError{Reason: "reconnect.initial exceeds reconnect.max"}
	case r.Multiplier != 0 && r.Multiplier < 1:
		return &transport.ConfigurationError{Reason: "reconnect.multiplier must be at least 1"}
	case r.Jitter < 0 || r.Jitter > 1:
		return &transport.ConfigurationError{Reason: "reconnect.jitter must be between 0 and 1"}
	case r.MaxAttempts < 0:
		return &transport.ConfigurationError{Reason: "reconnect.max_attempts must not be negative"}
	}
	return nil
}

// Backoff returns the backoff parameters.
func (r ReconnectConfig) Backoff() connection.BackoffConfig {
	return connection.BackoffConfig{
		Initial:    r.Initial.Std(),
		Max:        r.Max.Std(),
		Multiplier: r.Multiplier,
		Jitter:     r.Jitter,
	}
}

// Manager returns connection manager settings. Loggers are left for the
// caller to fill in.
func (r ReconnectConfig) Manager() connection.Config {
	return connection.Config{
		Backoff:          r.Backoff(),
		MaxAttempts:      r.MaxAttempts,
		AttemptTimeout:   r.AttemptTimeout.Std(),
		DisableReconnect: !r.Enabled,
	}
}

// Validate checks the log settings.
func (l LogConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &transport.ConfigurationError{Reason: fmt.Sprintf("unknown log level %q", l.Level)}
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		return &transport.ConfigurationError{Reason: fmt.Sprintf("unknown log format %q", l.Format)}
	}
	return nil
}
