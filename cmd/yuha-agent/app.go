package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/yuha-project/yuha-go/pkg/agent"
	"github.com/yuha-project/yuha-go/pkg/cert"
	"github.com/yuha-project/yuha-go/pkg/config"
	"github.com/yuha-project/yuha-go/pkg/discovery"
	"github.com/yuha-project/yuha-go/pkg/log"
	"github.com/yuha-project/yuha-go/pkg/metrics"
	"github.com/yuha-project/yuha-go/pkg/transport"
)

const metricsShutdownTimeout = 5 * time.Second

// app holds what a running agent shares between sessions.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	handler  agent.Handler
	protocol log.Logger

	metricsSrv *http.Server
	metricsLn  net.Listener
	closers    []io.Closer
}

// newApp builds loggers, metrics and the request handler from cfg.
// Operational logs go to stderr.
func newApp(cfg config.Config, stderr io.Writer) (*app, error) {
	logger := cfg.Log.NewLogger(stderr).With("role", "agent")
	a := &app{
		cfg:     cfg,
		logger:  logger,
		handler: agent.DefaultServices().Mux(),
	}

	var loggers []log.Logger
	if cfg.Log.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.Log.ProtocolLog)
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		a.closers = append(a.closers, fl)
		loggers = append(loggers, fl)
	}
	if cfg.Log.SlogLevel() <= slog.LevelDebug {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		loggers = append(loggers, metrics.New(metrics.WithRegistry(reg)))
		if err := a.startMetrics(reg); err != nil {
			a.Close()
			return nil, err
		}
	}

	switch len(loggers) {
	case 0:
	case 1:
		a.protocol = loggers[0]
	default:
		a.protocol = log.NewMultiLogger(loggers...)
	}
	return a, nil
}

func (a *app) startMetrics(g prometheus.Gatherer) error {
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))

	a.metricsLn = ln
	a.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := a.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

// channelOptions returns the options for every session channel.
func (a *app) channelOptions() []transport.ChannelOption {
	if a.protocol == nil {
		return nil
	}
	return []transport.ChannelOption{transport.WithProtocolLogger(a.protocol)}
}

// serveStdio serves a single session over the process's stdio.
func (a *app) serveStdio(ctx context.Context) error {
	return a.serveStream(ctx, transport.StdioStream())
}

// serveStream serves one session on stream until the peer hangs up.
func (a *app) serveStream(ctx context.Context, stream transport.Stream) error {
	ch := transport.NewMessageChannel(stream, transport.KindLocal, a.channelOptions()...)
	a.logger.Info("serving stdio session", "conn_id", ch.ID())

	err := agent.Serve(ctx, ch, a.handler)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("session ended", "conn_id", ch.ID(), "error", err)
	return err
}

// serveListener accepts TCP sessions until ctx is cancelled.
func (a *app) serveListener(ctx context.Context) error {
	ln, err := a.listen()
	if err != nil {
		return err
	}

	srv, err := agent.NewServer(agent.ServerConfig{
		Handler:        a.handler,
		Logger:         a.logger,
		ProtocolLogger: a.protocol,
	})
	if err != nil {
		_ = ln.Close()
		return err
	}
	if err := srv.Start(ctx, ln); err != nil {
		_ = ln.Close()
		return err
	}
	defer srv.Stop()
	a.logger.Info("listening", "addr", ln.Addr().String(), "tls", a.cfg.Agent.TLS.Enabled)

	if a.cfg.Agent.Advertise {
		adv, err := discovery.Advertise(ctx, discovery.Info{
			Instance:  a.cfg.Agent.Instance,
			Port:      listenPort(ln.Addr()),
			TLS:       a.cfg.Agent.TLS.Enabled,
			Interface: a.cfg.Agent.Interface,
		})
		if err != nil {
			return fmt.Errorf("advertise: %w", err)
		}
		defer adv.Stop()
		a.logger.Info("advertising", "instance", adv.Info().Instance, "service", discovery.ServiceType)
	}

	<-ctx.Done()
	a.logger.Info("shutting down", "sessions", srv.ConnectionCount())
	return nil
}

func (a *app) listen() (net.Listener, error) {
	tlsCfg := a.cfg.Agent.TLS
	if !tlsCfg.Enabled {
		return transport.Listen(a.cfg.Agent.Listen)
	}
	built, err := tlsCfg.Build()
	if err != nil {
		return nil, err
	}
	a.checkCertificate(built.Certificate)
	return transport.ListenTLS(a.cfg.Agent.Listen, built)
}

// checkCertificate warns about an agent certificate that is expired or
// close to it. The listener still starts; clients decide.
func (a *app) checkCertificate(tc *tls.Certificate) {
	if tc == nil || len(tc.Certificate) == 0 {
		return
	}
	leaf, err := x509.ParseCertificate(tc.Certificate[0])
	if err != nil {
		return
	}
	id := &cert.Identity{Certificate: leaf}
	switch {
	case id.IsExpired():
		a.logger.Warn("agent certificate has expired", "subject", leaf.Subject.CommonName, "not_after", leaf.NotAfter)
	case id.NeedsRenewal():
		a.logger.Warn("agent certificate expires soon", "subject", leaf.Subject.CommonName, "not_after", leaf.NotAfter)
	}
}

func listenPort(addr net.Addr) uint16 {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	return 0
}

// Close stops the metrics endpoint and closes capture files.
func (a *app) Close() error {
	var errs []error
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		errs = append(errs, a.metricsSrv.Shutdown(ctx))
		cancel()
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
