package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/yuha-project/yuha-go/pkg/client"
	"github.com/yuha-project/yuha-go/pkg/config"
	"github.com/yuha-project/yuha-go/pkg/connection"
	"github.com/yuha-project/yuha-go/pkg/log"
	"github.com/yuha-project/yuha-go/pkg/transport"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string

	kind           string
	address        string
	connectTimeout time.Duration

	sshHost         string
	sshPort         int
	sshUser         string
	sshKey          string
	knownHosts      string
	insecureHostKey bool

	agentBinary string
	wslDistro   string

	tls         bool
	caFile      string
	certFile    string
	keyFile     string
	serverName  string
	insecureTLS bool

	logLevel    string
	logFormat   string
	protocolLog string

	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "yuha",
		Short: "Talk to a yuha agent",
		Long: `yuha sends requests to a yuha agent running on a remote host, in a
local child process, inside WSL, or behind a TCP socket.

The agent shares its clipboard, opens URLs in its browser, and keeps a
registry of port forwards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts.bindFlags(rootCmd)

	rootCmd.AddCommand(
		clipboardCmd(opts),
		openCmd(opts),
		forwardCmd(opts),
		pingCmd(opts),
		shellCmd(opts),
		discoverCmd(),
		logCmd(),
		certCmd(),
		versionCmd(),
	)

	return rootCmd
}

// bindFlags registers the shared flags on cmd.
func (o *options) bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")

	f.StringVarP(&o.kind, "kind", "k", "", "Transport: ssh, local, tcp or wsl")
	f.StringVarP(&o.address, "address", "a", "", "Agent address for tcp (host:port)")
	f.DurationVar(&o.connectTimeout, "connect-timeout", 0, "Connect timeout")

	f.StringVar(&o.sshHost, "ssh-host", "", "SSH host")
	f.IntVar(&o.sshPort, "ssh-port", 0, "SSH port (default 22)")
	f.StringVar(&o.sshUser, "ssh-user", "", "SSH user")
	f.StringVar(&o.sshKey, "ssh-key", "", "SSH private key")
	f.StringVar(&o.knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	f.BoolVar(&o.insecureHostKey, "insecure-host-key", false, "Skip SSH host key verification")

	f.StringVar(&o.agentBinary, "agent", "", "Agent executable for ssh, local and wsl")
	f.StringVar(&o.wslDistro, "distro", "", "WSL distribution")

	f.BoolVar(&o.tls, "tls", false, "Use TLS for tcp")
	f.StringVar(&o.caFile, "ca", "", "CA certificate for agent verification")
	f.StringVar(&o.certFile, "cert", "", "Client certificate for mutual TLS")
	f.StringVar(&o.keyFile, "key", "", "Client key for mutual TLS")
	f.StringVar(&o.serverName, "server-name", "", "Expected agent certificate name")
	f.BoolVar(&o.insecureTLS, "insecure", false, "Skip agent certificate verification")

	f.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&o.logFormat, "log-format", "", "Log format: text or json")
	f.StringVar(&o.protocolLog, "protocol-log", "", "Capture protocol events to this file")

	f.DurationVarP(&o.timeout, "timeout", "t", 30*time.Second, "Request timeout (0 disables)")
}

// loadConfig reads the config file, if any, and applies the flags that
// were set explicitly.
func (o *options) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Read(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	t := &cfg.Transport
	if changed("kind") {
		t.Kind = o.kind
	}
	if changed("address") {
		t.Address = o.address
	}
	if changed("connect-timeout") {
		t.ConnectTimeout = config.Duration(o.connectTimeout)
	}
	if changed("ssh-host") {
		t.SSH.Host = o.sshHost
	}
	if changed("ssh-port") {
		t.SSH.Port = o.sshPort
	}
	if changed("ssh-user") {
		t.SSH.User = o.sshUser
	}
	if changed("ssh-key") {
		t.SSH.KeyPath = o.sshKey
	}
	if changed("known-hosts") {
		t.SSH.KnownHostsPath = o.knownHosts
	}
	if changed("insecure-host-key") {
		t.SSH.InsecureSkipHostKey = o.insecureHostKey
	}
	if changed("agent") {
		t.SSH.Binary = o.agentBinary
		t.Local.Binary = o.agentBinary
		t.WSL.Binary = o.agentBinary
	}
	if changed("distro") {
		t.WSL.Distro = o.wslDistro
	}
	if changed("tls") {
		t.TLS.Enabled = o.tls
	}
	if changed("ca") {
		t.TLS.CAFile = o.caFile
	}
	if changed("cert") {
		t.TLS.CertFile = o.certFile
	}
	if changed("key") {
		t.TLS.KeyFile = o.keyFile
	}
	if changed("server-name") {
		t.TLS.ServerName = o.serverName
	}
	if changed("insecure") {
		t.TLS.InsecureSkipVerify = o.insecureTLS
	}
	if changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	if changed("protocol-log") {
		cfg.Log.ProtocolLog = o.protocolLog
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// session is an open client plus whatever it needs closed afterwards.
type session struct {
	*client.Client
	logger  *slog.Logger
	kind    transport.Kind
	manager *connection.Manager
	closers []io.Closer
}

// Close releases the client, manager and capture file in that order.
func (s *session) Close() error {
	errs := []error{s.Client.Close()}
	if s.manager != nil {
		errs = append(errs, s.manager.Close())
	}
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// connect opens a session. With managed set, the connection runs under a
// connection.Manager so reconnectable transports survive losses.
func (o *options) connect(ctx context.Context, cmd *cobra.Command, managed bool) (*session, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	tr, err := cfg.Transport.Build()
	if err != nil {
		return nil, err
	}
	attachStderr(tr, os.Stderr)

	s := &session{logger: logger, kind: tr.Kind()}
	var protoLogger log.Logger
	var chOpts []transport.ChannelOption
	if cfg.Log.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.Log.ProtocolLog)
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		s.closers = append(s.closers, fl)
		protoLogger = fl
		chOpts = append(chOpts, transport.WithProtocolLogger(fl))
	}

	clientOpts := []client.Option{
		client.WithLogger(logger),
		client.WithTracerProvider(otel.GetTracerProvider()),
		client.WithChannelOptions(chOpts...),
	}

	if !managed {
		c, err := client.Dial(ctx, tr, clientOpts...)
		if err != nil {
			s.closeFiles()
			return nil, err
		}
		s.Client = c
		return s, nil
	}

	mcfg := cfg.Reconnect.Manager()
	mcfg.Logger = logger
	mcfg.ProtocolLogger = protoLogger
	m := connection.NewTransportManager(tr, mcfg, chOpts...)
	m.OnReconnecting(func(attempt int, delay time.Duration) {
		logger.Warn("connection lost, reconnecting", "attempt", attempt, "delay", delay)
	})
	if err := m.Connect(ctx); err != nil {
		_ = m.Close()
		s.closeFiles()
		return nil, err
	}
	s.manager = m
	s.Client = client.NewWithSource(m, clientOpts...)
	return s, nil
}

func (s *session) closeFiles() {
	for _, c := range s.closers {
		_ = c.Close()
	}
}

// attachStderr forwards agent stderr for transports that spawn a process.
func attachStderr(tr transport.Transport, w io.Writer) {
	switch t := tr.(type) {
	case *transport.LocalTransport:
		t.Stderr = w
	case *transport.SSHTransport:
		t.Stderr = w
	case *transport.WSLTransport:
		t.Stderr = w
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withTimeout applies the --timeout flag.
func (o *options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// oneShot connects, runs fn under the request timeout, and closes.
func (o *options) oneShot(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	s, err := o.connect(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}
