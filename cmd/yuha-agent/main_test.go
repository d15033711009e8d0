package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuha-project/yuha-go/internal/logview"
	"github.com/yuha-project/yuha-go/pkg/cert"
	"github.com/yuha-project/yuha-go/pkg/client"
	"github.com/yuha-project/yuha-go/pkg/config"
	"github.com/yuha-project/yuha-go/pkg/transport"
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
	assert.Equal(t, ":7421", cfg.Agent.Listen)
	assert.False(t, cfg.Agent.TLS.Enabled)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadConfigFlags(t *testing.T) {
	cmd, opts := flagCmd(t,
		"--listen", "127.0.0.1:9000", "--cert", "/a.pem", "--key", "/a.key",
		"--advertise", "--instance", "yuha-lab", "--metrics-addr", ":9121",
	)
	cfg, err := opts.loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Agent.Listen)
	assert.True(t, cfg.Agent.TLS.Enabled)
	assert.Equal(t, "/a.pem", cfg.Agent.TLS.CertFile)
	assert.True(t, cfg.Agent.Advertise)
	assert.Equal(t, "yuha-lab", cfg.Agent.Instance)
	assert.Equal(t, ":9121", cfg.Metrics.Addr)
}

func TestLoadConfigRejects(t *testing.T) {
	cmd, opts := flagCmd(t, "--cert", "/a.pem")
	_, err := opts.loadConfig(cmd)
	assert.Error(t, err, "tls without key")

	cmd, opts = flagCmd(t, "--stdio", "--advertise")
	_, err = opts.loadConfig(cmd)
	assert.ErrorContains(t, err, "--advertise")

	cmd, opts = flagCmd(t, "--log-level", "chatty")
	_, err = opts.loadConfig(cmd)
	assert.Error(t, err)
}

func TestVersionFlag(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "yuha-agent dev (protocol 1.0")
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Log.ProtocolLog = filepath.Join(t.TempDir(), "agent.ylog")
	cfg.Metrics.Addr = "127.0.0.1:0"
	return cfg
}

func TestServeStreamWithMetricsAndCapture(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg, io.Discard)
	require.NoError(t, err)

	local, remote := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- a.serveStream(context.Background(), remote) }()

	c := client.New(transport.NewMessageChannel(local, transport.KindLocal))
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.SetClipboard(ctx, "copied"))
	got, err := c.GetClipboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "copied", got)

	require.NoError(t, c.Close())
	require.NoError(t, <-done)

	resp, err := http.Get("http://" + a.metricsLn.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `yuha_wire_requests_total{direction="in",operation="ping"} 1`)
	assert.Contains(t, string(body), `yuha_wire_responses_total{direction="out",type="data"} 1`)
	assert.Contains(t, string(body), "go_goroutines")

	require.NoError(t, a.Close())

	stats, err := logview.Collect(cfg.Log.ProtocolLog)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ping": 1, "set_clipboard": 1, "get_clipboard": 1}, stats.Operations)
}

func TestServeListener(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "error"

	a, err := newApp(cfg, io.Discard)
	require.NoError(t, err)
	defer a.Close()

	// Reserve a free port, then hand it to the agent.
	free, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := free.Addr().String()
	require.NoError(t, free.Close())
	a.cfg.Agent.Listen = addr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serveListener(ctx) }()

	var c *client.Client
	require.Eventually(t, func() bool {
		c, err = client.Dial(context.Background(), &transport.TCPTransport{Address: addr, ConnectTimeout: time.Second})
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveListener did not return after cancel")
	}
}

func TestServeListenerTLS(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "agent.pem")
	keyPath := filepath.Join(dir, "agent-key.pem")
	id, err := cert.NewSelfSigned(cert.Options{
		CommonName: "yuha-agent",
		Hosts:      []string{"127.0.0.1"},
		Validity:   24 * time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, id.Save(certPath, keyPath))

	cfg := config.Default()
	cfg.Log.Level = "warn"
	cfg.Agent.TLS.Enabled = true
	cfg.Agent.TLS.CertFile = certPath
	cfg.Agent.TLS.KeyFile = keyPath

	var stderr bytes.Buffer
	a, err := newApp(cfg, &stderr)
	require.NoError(t, err)
	defer a.Close()

	free, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := free.Addr().String()
	require.NoError(t, free.Close())
	a.cfg.Agent.Listen = addr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serveListener(ctx) }()

	tr := &transport.TCPTransport{
		Address:        addr,
		ConnectTimeout: time.Second,
		TLS:            &transport.TLSConfig{RootCAs: id.CertPool()},
	}
	var c *client.Client
	require.Eventually(t, func() bool {
		c, err = client.Dial(context.Background(), tr)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveListener did not return after cancel")
	}
	// A one-day certificate is inside the renewal window.
	assert.Contains(t, stderr.String(), "agent certificate expires soon")
}

func TestNewAppBadMetricsAddr(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Addr = "not-an-address"
	_, err := newApp(cfg, io.Discard)
	assert.Error(t, err)
}
