package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yuha-project/yuha-go/pkg/config"
	"github.com/yuha-project/yuha-go/pkg/version"
)

// options are the command-line overrides for the agent.
type options struct {
	configPath string
	stdio      bool

	listen    string
	advertise bool
	instance  string
	iface     string

	certFile     string
	keyFile      string
	clientCAFile string

	metricsAddr string
	protocolLog string
	logLevel    string
	logFormat   string

	showVersion bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "yuha-agent",
		Short: "Serve yuha requests",
		Long: `yuha-agent answers clipboard, browser and port forward requests from
the yuha client, over stdio or a TCP listener.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				info := version.Get()
				fmt.Fprintf(cmd.OutOrStdout(), "yuha-agent %s (protocol %s, %s)\n", info.Version, info.Protocol, info.Platform)
				return nil
			}

			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			if opts.stdio {
				return a.serveStdio(ctx)
			}
			return a.serveListener(ctx)
		},
	}

	opts.bindFlags(cmd)
	return cmd
}

// bindFlags registers the agent flags on cmd.
func (o *options) bindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "Config file (.yaml, .yml or .toml)")
	f.BoolVar(&o.stdio, "stdio", false, "Serve one session over stdin/stdout")

	f.StringVarP(&o.listen, "listen", "l", "", "TCP listen address (default :7421)")
	f.BoolVar(&o.advertise, "advertise", false, "Advertise the listener over mDNS")
	f.StringVar(&o.instance, "instance", "", "mDNS instance name (default yuha-<hostname>)")
	f.StringVar(&o.iface, "interface", "", "Advertise on this network interface only")

	f.StringVar(&o.certFile, "cert", "", "TLS certificate; enables TLS with --key")
	f.StringVar(&o.keyFile, "key", "", "TLS private key")
	f.StringVar(&o.clientCAFile, "client-ca", "", "Require client certificates signed by this CA")

	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&o.protocolLog, "protocol-log", "", "Capture protocol events to this file")
	f.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&o.logFormat, "log-format", "", "Log format: text or json")

	f.BoolVarP(&o.showVersion, "version", "v", false, "Print version and exit")
}

// loadConfig reads the config file, if any, and applies flags that were
// set explicitly.
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
	a := &cfg.Agent
	if changed("listen") {
		a.Listen = o.listen
	}
	if changed("advertise") {
		a.Advertise = o.advertise
	}
	if changed("instance") {
		a.Instance = o.instance
	}
	if changed("interface") {
		a.Interface = o.iface
	}
	if changed("cert") {
		a.TLS.CertFile = o.certFile
		a.TLS.Enabled = true
	}
	if changed("key") {
		a.TLS.KeyFile = o.keyFile
		a.TLS.Enabled = true
	}
	if changed("client-ca") {
		a.TLS.ClientCAFile = o.clientCAFile
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if changed("protocol-log") {
		cfg.Log.ProtocolLog = o.protocolLog
	}
	if changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = o.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if o.stdio && a.Advertise {
		return config.Config{}, fmt.Errorf("--advertise needs a TCP listener, not --stdio")
	}
	return cfg, nil
}
