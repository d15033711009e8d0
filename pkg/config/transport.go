package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yuha-project/yuha-go/pkg/transport"
)

// TransportConfig selects and configures the transport.
type TransportConfig struct {
	// Kind is ssh, local, tcp or wsl.
	Kind string `yaml:"kind" toml:"kind"`

	// Address is host:port for tcp.
	Address string `yaml:"address" toml:"address"`

	ConnectTimeout Duration `yaml:"connect_timeout" toml:"connect_timeout"`

	SSH   SSHConfig   `yaml:"ssh" toml:"ssh"`
	Local LocalConfig `yaml:"local" toml:"local"`
	WSL   WSLConfig   `yaml:"wsl" toml:"wsl"`
	TLS   TLSConfig   `yaml:"tls" toml:"tls"`
}

// SSHConfig configures the ssh transport.
type SSHConfig struct {
	Host                string   `yaml:"host" toml:"host"`
	Port                int      `yaml:"port" toml:"port"`
	User                string   `yaml:"user" toml:"user"`
	KeyPath             string   `yaml:"key_path" toml:"key_path"`
	KnownHostsPath      string   `yaml:"known_hosts_path" toml:"known_hosts_path"`
	InsecureSkipHostKey bool     `yaml:"insecure_skip_host_key" toml:"insecure_skip_host_key"`
	Binary              string   `yaml:"binary" toml:"binary"`
	Args                []string `yaml:"args" toml:"args"`
}

// LocalConfig configures the local transport.
type LocalConfig struct {
	Binary string   `yaml:"binary" toml:"binary"`
	Args   []string `yaml:"args" toml:"args"`
	Dir    string   `yaml:"dir" toml:"dir"`
}

// WSLConfig configures the wsl transport.
type WSLConfig struct {
	Distro string   `yaml:"distro" toml:"distro"`
	Binary string   `yaml:"binary" toml:"binary"`
	Args   []string `yaml:"args" toml:"args"`
}

// TLSConfig names certificate files for tcp clients and agent listeners.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled" toml:"enabled"`
	CAFile             string `yaml:"ca_file" toml:"ca_file"`
	CertFile           string `yaml:"cert_file" toml:"cert_file"`
	KeyFile            string `yaml:"key_file" toml:"key_file"`
	ClientCAFile       string `yaml:"client_ca_file" toml:"client_ca_file"`
	ServerName         string `yaml:"server_name" toml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

// Validate checks that the selected kind has what it needs to connect.
func (t TransportConfig) Validate() error {
	kind, err := transport.ParseKind(t.Kind)
	if err != nil {
		return err
	}
	if t.ConnectTimeout < 0 {
		return &transport.ConfigurationError{Reason: "transport.connect_timeout must not be negative"}
	}

	switch kind {
	case transport.KindDirectSocket:
		if t.Address == "" {
			return &transport.ConfigurationError{Reason: "tcp transport requires address"}
		}
	case transport.KindSecureShell:
		var missing []string
		if t.SSH.Host == "" {
			missing = append(missing, "host")
		}
		if t.SSH.User == "" {
			missing = append(missing, "user")
		}
		if t.SSH.KeyPath == "" {
			missing = append(missing, "key_path")
		}
		if len(missing) > 0 {
			return &transport.ConfigurationError{Reason: "ssh transport requires " + strings.Join(missing, ", ")}
		}
		if t.SSH.Port < 0 || t.SSH.Port > 65535 {
			return &transport.ConfigurationError{Reason: fmt.Sprintf("ssh port %d out of range", t.SSH.Port)}
		}
	case transport.KindLocal:
		if t.Local.Binary == "" {
			return &transport.ConfigurationError{Reason: "local transport requires binary"}
		}
	case transport.KindSubsystemBridge:
		if t.WSL.Binary == "" {
			return &transport.ConfigurationError{Reason: "wsl transport requires binary"}
		}
	}

	if t.TLS.Enabled && kind != transport.KindDirectSocket {
		return &transport.ConfigurationError{Reason: "tls applies to the tcp transport only"}
	}
	if (t.TLS.CertFile == "") != (t.TLS.KeyFile == "") {
		return &transport.ConfigurationError{Reason: "tls cert_file and key_file go together"}
	}
	return nil
}

// Build returns the configured transport.
func (t TransportConfig) Build() (transport.Transport, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	kind, _ := transport.ParseKind(t.Kind)
	timeout := t.ConnectTimeout.Std()

	switch kind {
	case transport.KindDirectSocket:
		tr := &transport.TCPTransport{Address: t.Address, ConnectTimeout: timeout}
		if t.TLS.Enabled {
			tlsConfig, err := t.TLS.Build()
			if err != nil {
				return nil, err
			}
			tr.TLS = tlsConfig
		}
		return tr, nil

	case transport.KindSecureShell:
		tr := &transport.SSHTransport{
			Host:                t.SSH.Host,
			User:                t.SSH.User,
			KeyPath:             expandHome(t.SSH.KeyPath),
			KnownHostsPath:      expandHome(t.SSH.KnownHostsPath),
			InsecureSkipHostKey: t.SSH.InsecureSkipHostKey,
			Binary:              t.SSH.Binary,
			Args:                t.SSH.Args,
			ConnectTimeout:      timeout,
		}
		if t.SSH.Port != 0 {
			tr.Port = strconv.Itoa(t.SSH.Port)
		}
		return tr, nil

	case transport.KindLocal:
		return &transport.LocalTransport{
			Binary: expandHome(t.Local.Binary),
			Args:   t.Local.Args,
			Dir:    expandHome(t.Local.Dir),
		}, nil

	case transport.KindSubsystemBridge:
		return &transport.WSLTransport{
			Distro: t.WSL.Distro,
			Binary: t.WSL.Binary,
			Args:   t.WSL.Args,
		}, nil
	}
	return nil, &transport.ConfigurationError{Reason: fmt.Sprintf("unsupported transport kind %s", kind)}
}

// Build loads the named files into a transport TLS config.
func (c TLSConfig) Build() (*transport.TLSConfig, error) {
	out := &transport.TLSConfig{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.CertFile != "" || c.KeyFile != "" {
		if c.CertFile == "" || c.KeyFile == "" {
			return nil, errors.New("tls cert_file and key_file go together")
		}
		cert, err := tls.LoadX509KeyPair(expandHome(c.CertFile), expandHome(c.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		out.Certificate = &cert
	}

	if c.CAFile != "" {
		pool, err := transport.LoadCertPool(expandHome(c.CAFile))
		if err != nil {
			return nil, err
		}
		out.RootCAs = pool
	}
	if c.ClientCAFile != "" {
		pool, err := transport.LoadCertPool(expandHome(c.ClientCAFile))
		if err != nil {
			return nil, err
		}
		out.ClientCAs = pool
	}
	return out, nil
}

// expandHome resolves a leading "~/" against the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
