package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yuha-project/yuha-go/pkg/cert"
)

const day = 24 * time.Hour

func certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Create and inspect agent TLS certificates",
	}
	cmd.AddCommand(certGenerateCmd(), certCACmd(), certInfoCmd())
	return cmd
}

func certGenerateCmd() *cobra.Command {
	var (
		certPath, keyPath string
		caCert, caKey     string
		name              string
		hosts             []string
		days              int
		client            bool
		force             bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an agent (or client) certificate",
		Long: `Generate a certificate and key for an agent TLS listener.

Without --ca-cert the certificate is self-signed; clients then trust it with
--ca pointing at the certificate itself. With --ca-cert and --ca-key the
certificate is issued by that CA; --client issues a client certificate for
agents started with --client-ca.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if err := refuseOverwrite(certPath, keyPath); err != nil {
					return err
				}
			}

			opts := cert.Options{
				CommonName: name,
				Hosts:      hosts,
				Validity:   time.Duration(days) * day,
				Usage:      cert.UsageServer,
			}
			if client {
				opts.Usage = cert.UsageClient
			}
			if opts.CommonName == "" {
				opts.CommonName = defaultCommonName(hosts)
			}

			var (
				id  *cert.Identity
				err error
			)
			switch {
			case caCert != "" && caKey != "":
				ca, lerr := cert.Load(caCert, caKey)
				if lerr != nil {
					return fmt.Errorf("load CA: %w", lerr)
				}
				id, err = ca.Issue(opts)
			case caCert != "" || caKey != "":
				return errors.New("--ca-cert and --ca-key must be given together")
			case client:
				return errors.New("--client requires --ca-cert and --ca-key")
			default:
				id, err = cert.NewSelfSigned(opts)
			}
			if err != nil {
				return err
			}

			if err := id.Save(certPath, keyPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s (expires %s)\n",
				certPath, keyPath, id.ExpiresAt().Format(time.DateOnly))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&certPath, "out", "o", "agent.pem", "Certificate output file")
	f.StringVar(&keyPath, "key-out", "agent-key.pem", "Private key output file")
	f.StringVar(&caCert, "ca-cert", "", "Issuing CA certificate")
	f.StringVar(&caKey, "ca-key", "", "Issuing CA private key")
	f.StringVar(&name, "name", "", "Common name (default: first host or hostname)")
	f.StringSliceVar(&hosts, "host", nil, "DNS name or IP the certificate is valid for (repeatable)")
	f.IntVar(&days, "days", int(cert.IdentityValidity/day), "Validity in days")
	f.BoolVar(&client, "client", false, "Issue a client certificate")
	f.BoolVar(&force, "force", false, "Overwrite existing files")
	return cmd
}

func certCACmd() *cobra.Command {
	var (
		certPath, keyPath string
		name              string
		days              int
		force             bool
	)

	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Create a CA for mutual TLS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if err := refuseOverwrite(certPath, keyPath); err != nil {
					return err
				}
			}
			ca, err := cert.NewCA(name, time.Duration(days)*day)
			if err != nil {
				return err
			}
			if err := ca.Save(certPath, keyPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote CA %s and %s\n", certPath, keyPath)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&certPath, "out", "o", "ca.pem", "CA certificate output file")
	f.StringVar(&keyPath, "key-out", "ca-key.pem", "CA private key output file")
	f.StringVar(&name, "name", "yuha CA", "CA common name")
	f.IntVar(&days, "days", int(cert.CAValidity/day), "Validity in days")
	f.BoolVar(&force, "force", false, "Overwrite existing files")
	return cmd
}

func certInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <cert.pem>",
		Short: "Show certificate details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cert.ReadCertificate(args[0])
			if err != nil {
				return err
			}
			printCertInfo(cmd.OutOrStdout(), cert.GetCertificateInfo(c))
			return nil
		},
	}
}

func printCertInfo(w io.Writer, info *cert.CertificateInfo) {
	fmt.Fprintf(w, "Subject:    %s\n", info.CommonName)
	fmt.Fprintf(w, "Issuer:     %s\n", info.Issuer)
	fmt.Fprintf(w, "Valid:      %s to %s\n", info.NotBefore.Format(time.RFC3339), info.NotAfter.Format(time.RFC3339))

	var usage []string
	if info.IsCA {
		usage = append(usage, "ca")
	}
	if info.Server {
		usage = append(usage, "server")
	}
	if info.Client {
		usage = append(usage, "client")
	}
	fmt.Fprintf(w, "Usage:      %s\n", strings.Join(usage, ", "))

	hosts := append([]string(nil), info.DNSNames...)
	for _, ip := range info.IPs {
		hosts = append(hosts, ip.String())
	}
	if len(hosts) > 0 {
		fmt.Fprintf(w, "Hosts:      %s\n", strings.Join(hosts, ", "))
	}
	fmt.Fprintf(w, "SKI:        %x\n", info.SKI)

	if remaining := time.Until(info.NotAfter); remaining < 0 {
		fmt.Fprintln(w, "Status:     EXPIRED")
	} else if remaining < cert.RenewalWindow {
		fmt.Fprintf(w, "Status:     expires in %d days, renew soon\n", int(remaining/day))
	}
}

func refuseOverwrite(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", p)
		}
	}
	return nil
}

func defaultCommonName(hosts []string) string {
	if len(hosts) > 0 && hosts[0] != "" {
		return hosts[0]
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "yuha-agent"
}
