package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuha-project/yuha-go/pkg/agent"
	"github.com/yuha-project/yuha-go/pkg/cert"
	"github.com/yuha-project/yuha-go/pkg/client"
	"github.com/yuha-project/yuha-go/pkg/discovery"
	"github.com/yuha-project/yuha-go/pkg/log"
	"github.com/yuha-project/yuha-go/pkg/transport"
	"github.com/yuha-project/yuha-go/pkg/version"
)

func flagCmd(t *testing.T, args ...string) (*cobra.Command, *options) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	opts := &options{}
	opts.bindFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, opts
}

func TestLoadConfigDefaults(t *testing.T) {
	cmd, opts := flagCmd(t)
	cfg, err := opts.loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Transport.Kind)
	assert.Equal(t, transport.DefaultAgentBinary, cfg.Transport.Local.Binary)
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	cmd, opts := flagCmd(t,
		"--kind", "ssh", "--ssh-host", "devbox", "--ssh-user", "alice", "--ssh-key", "/k",
		"--ssh-port", "2222", "--agent", "/opt/yuha-agent", "--log-level", "debug",
	)
	cfg, err := opts.loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "ssh", cfg.Transport.Kind)
	assert.Equal(t, 2222, cfg.Transport.SSH.Port)
	assert.Equal(t, "/opt/yuha-agent", cfg.Transport.SSH.Binary)
	assert.Equal(t, "/opt/yuha-agent", cfg.Transport.Local.Binary)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yuha.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  kind: tcp\nlog:\n  format: json\n"), 0o600))

	// The file alone is incomplete; the flag supplies the address.
	cmd, opts := flagCmd(t, "--config", path, "--address", "devbox:7421")
	cfg, err := opts.loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Transport.Kind)
	assert.Equal(t, "devbox:7421", cfg.Transport.Address)
	assert.Equal(t, "json", cfg.Log.Format)

	cmd, opts = flagCmd(t, "--config", path)
	_, err = opts.loadConfig(cmd)
	assert.Error(t, err)
}

func TestLoadConfigInvalidKind(t *testing.T) {
	cmd, opts := flagCmd(t, "--kind", "carrier-pigeon")
	_, err := opts.loadConfig(cmd)
	var cerr *transport.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestParsePort(t *testing.T) {
	p, err := parsePort("8080")
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), p)

	for _, bad := range []string{"0", "65536", "http", "-1", ""} {
		_, err := parsePort(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseHostPort(t *testing.T) {
	tests := []struct {
		in   string
		host string
		port uint16
	}{
		{"db:5432", "db", 5432},
		{"5432", "localhost", 5432},
		{":9000", "localhost", 9000},
		{"[::1]:22", "::1", 22},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, port, err := parseHostPort(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}

	_, _, err := parseHostPort("db")
	assert.Error(t, err)
	_, _, err = parseHostPort("db:0")
	assert.Error(t, err)
}

type openedURLs struct {
	mu   sync.Mutex
	urls []string
}

func (o *openedURLs) open(_ context.Context, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return nil
}

func (o *openedURLs) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

func testServices(opened *openedURLs) agent.Services {
	return agent.Services{
		Clipboard: agent.NewMemoryClipboard(),
		Browser:   opened.open,
		Forwards:  agent.NewForwardRegistry(),
	}
}

func newTestShell(t *testing.T) (*shell, *bytes.Buffer, *openedURLs) {
	t.Helper()
	a, b := net.Pipe()
	opened := &openedURLs{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- agent.Serve(ctx, transport.NewMessageChannel(b, transport.KindLocal), testServices(opened).Mux())
	}()

	c := client.New(transport.NewMessageChannel(a, transport.KindLocal))
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		<-done
	})

	out := &bytes.Buffer{}
	return &shell{
		client:  c,
		out:     out,
		timeout: 5 * time.Second,
		state:   func() string { return "connected" },
	}, out, opened
}

func TestShellClipboard(t *testing.T) {
	sh, out, _ := newTestShell(t)
	ctx := context.Background()

	assert.False(t, sh.exec(ctx, "set  hello  world"))
	assert.False(t, sh.exec(ctx, "GET"))
	assert.Equal(t, "hello  world\n", out.String())
}

func TestShellOpenAndForwards(t *testing.T) {
	sh, out, opened := newTestShell(t)
	ctx := context.Background()

	sh.exec(ctx, "open https://example.com")
	assert.Equal(t, []string{"https://example.com"}, opened.list())

	sh.exec(ctx, "forward start 8080 db:5432")
	sh.exec(ctx, "forward list")
	assert.Contains(t, out.String(), "8080 -> db:5432")

	out.Reset()
	sh.exec(ctx, "forward stop 9999")
	assert.Equal(t, "agent: no forward on port 9999\n", out.String())

	out.Reset()
	sh.exec(ctx, "forward stop 8080")
	sh.exec(ctx, "fwd ls")
	assert.Equal(t, "No port forwards\n", out.String())
}

func TestShellMisc(t *testing.T) {
	sh, out, _ := newTestShell(t)
	ctx := context.Background()

	sh.exec(ctx, "ping")
	assert.Contains(t, out.String(), "pong (")

	out.Reset()
	sh.exec(ctx, "state")
	assert.Equal(t, "connected\n", out.String())

	out.Reset()
	sh.exec(ctx, "teleport")
	assert.Contains(t, out.String(), "Unknown command: teleport")

	out.Reset()
	sh.exec(ctx, "open")
	assert.Contains(t, out.String(), "usage: open <url>")

	out.Reset()
	assert.False(t, sh.exec(ctx, "   "))
	assert.Empty(t, out.String())

	assert.True(t, sh.exec(ctx, "quit"))
	assert.True(t, sh.exec(ctx, "q"))
}

func TestPrintServices(t *testing.T) {
	services := make(chan *discovery.Service, 2)
	services <- &discovery.Service{Instance: "yuha-a", Host: "a.local.", Port: 7421, Addresses: []string{"10.0.0.1"}, TLS: true}
	services <- &discovery.Service{Instance: "yuha-b", Host: "b.local.", Port: 7422}
	close(services)

	var buf bytes.Buffer
	assert.Equal(t, 2, printServices(&buf, services, false))
	out := buf.String()
	assert.Contains(t, out, "INSTANCE")
	assert.Contains(t, out, "10.0.0.1:7421")
	assert.Contains(t, out, "b.local:7422")

	first := make(chan *discovery.Service, 2)
	first <- &discovery.Service{Instance: "yuha-a", Port: 1}
	first <- &discovery.Service{Instance: "yuha-b", Port: 2}
	assert.Equal(t, 1, printServices(&bytes.Buffer{}, first, true))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func startAgent(t *testing.T) string {
	t.Helper()
	srv, err := agent.NewServer(agent.ServerConfig{Handler: testServices(&openedURLs{}).Mux()})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background(), ln))
	t.Cleanup(func() { _ = srv.Stop() })
	return ln.Addr().String()
}

func TestCommandsOverTCP(t *testing.T) {
	addr := startAgent(t)
	base := []string{"--kind", "tcp", "--address", addr, "--log-level", "error"}

	_, err := execute(t, append(base, "clipboard", "set", "hi", "there")...)
	require.NoError(t, err)

	out, err := execute(t, append(base, "clipboard", "get")...)
	require.NoError(t, err)
	assert.Equal(t, "hi there\n", out)

	out, err = execute(t, append(base, "ping", "-n", "2", "-i", "1ms")...)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "from tcp agent"))

	_, err = execute(t, append(base, "forward", "start", "8080", "db:5432")...)
	require.NoError(t, err)
	out, err = execute(t, append(base, "forward", "list")...)
	require.NoError(t, err)
	assert.Equal(t, "8080 -> db:5432\n", out)

	_, err = execute(t, append(base, "forward", "stop", "1")...)
	assert.ErrorContains(t, err, "no forward on port 1")
}

func TestProtocolLogFlag(t *testing.T) {
	addr := startAgent(t)
	capture := filepath.Join(t.TempDir(), "client.ylog")

	_, err := execute(t, "--kind", "tcp", "--address", addr, "--protocol-log", capture, "ping")
	require.NoError(t, err)

	out, err := execute(t, "log", "stats", capture)
	require.NoError(t, err)
	assert.Contains(t, out, "ping:")
	assert.Contains(t, out, "Connections: 1")
}

func TestLogCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.ylog")
	fl, err := log.NewFileLogger(path)
	require.NoError(t, err)
	fl.Log(log.Event{
		Timestamp:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		ConnectionID: "1234567890",
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Message:      &log.MessageEvent{Type: log.MessageTypeRequest, Operation: "open_browser"},
	})
	require.NoError(t, fl.Close())

	out, err := execute(t, "log", "view", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[conn:12345678] OUT WIRE REQUEST")
	assert.Contains(t, out, "Operation: open_browser")

	out, err = execute(t, "log", "view", "--direction", "in", path)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = execute(t, "log", "view", "--layer", "service", path)
	assert.ErrorContains(t, err, "invalid layer")

	out, err = execute(t, "log", "export", "-f", "csv", path)
	require.NoError(t, err)
	assert.Contains(t, out, "open_browser")

	_, err = execute(t, "log", "filter", path)
	assert.Error(t, err)

	filtered := filepath.Join(t.TempDir(), "out.ylog")
	out, err = execute(t, "log", "filter", "-o", filtered, "--layer", "wire", path)
	require.NoError(t, err)
	assert.Equal(t, "Filtered 1 events to "+filtered+"\n", out)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Protocol:   1.0 (yuha/1)")
}

func TestCertCommands(t *testing.T) {
	dir := t.TempDir()
	caCert := filepath.Join(dir, "ca.pem")
	caKey := filepath.Join(dir, "ca-key.pem")
	agentCert := filepath.Join(dir, "agent.pem")
	agentKey := filepath.Join(dir, "agent-key.pem")
	clientCert := filepath.Join(dir, "client.pem")
	clientKey := filepath.Join(dir, "client-key.pem")

	out, err := execute(t, "cert", "ca", "-o", caCert, "--key-out", caKey, "--name", "test CA")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote CA")

	_, err = execute(t, "cert", "ca", "-o", caCert, "--key-out", caKey)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "cert", "generate", "-o", agentCert, "--key-out", agentKey,
		"--ca-cert", caCert, "--ca-key", caKey, "--host", "127.0.0.1")
	require.NoError(t, err)

	_, err = execute(t, "cert", "generate", "-o", clientCert, "--key-out", clientKey,
		"--ca-cert", caCert, "--ca-key", caKey, "--client", "--name", "laptop")
	require.NoError(t, err)

	_, err = execute(t, "cert", "generate", "-o", filepath.Join(dir, "x.pem"), "--client")
	assert.ErrorContains(t, err, "--client requires")

	out, err = execute(t, "cert", "info", agentCert)
	require.NoError(t, err)
	assert.Contains(t, out, "Subject:    127.0.0.1")
	assert.Contains(t, out, "Issuer:     test CA")
	assert.Contains(t, out, "Usage:      server")
	assert.Contains(t, out, "Hosts:      127.0.0.1")

	out, err = execute(t, "cert", "info", caCert)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:      ca")

	// The generated files drive a mutual TLS session end to end.
	tlsCfg := &transport.TLSConfig{}
	agentID, err := cert.Load(agentCert, agentKey)
	require.NoError(t, err)
	tc := agentID.TLSCertificate()
	tlsCfg.Certificate = &tc
	tlsCfg.ClientCAs, err = transport.LoadCertPool(caCert)
	require.NoError(t, err)

	ln, err := transport.ListenTLS("127.0.0.1:0", tlsCfg)
	require.NoError(t, err)
	srv, err := agent.NewServer(agent.ServerConfig{Handler: testServices(&openedURLs{}).Mux()})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background(), ln))
	t.Cleanup(func() { _ = srv.Stop() })

	out, err = execute(t, "--kind", "tcp", "--address", ln.Addr().String(), "--log-level", "error",
		"--tls", "--ca", caCert, "--cert", clientCert, "--key", clientKey, "ping")
	require.NoError(t, err)
	assert.Contains(t, out, "reply 1 from tcp agent")
}
