package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yuha-project/yuha-go/pkg/discovery"
)

func discoverCmd() *cobra.Command {
	var (
		timeout time.Duration
		iface   string
		first   bool
	)

	cmd := &cobra.Command{
		Use:   "discover [instance]",
		Short: "Find agents advertised on the local network",
		Long: `Browse mDNS for agents advertising _yuha._tcp. With an instance name,
wait for that agent only and print its address.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				svc, err := discovery.Lookup(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, svc.Address())
				return nil
			}

			services, err := (&discovery.Browser{Interface: iface}).Browse(ctx)
			if err != nil {
				return err
			}
			n := printServices(out, services, first)
			if n == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No agents found")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "How long to browse")
	cmd.Flags().StringVar(&iface, "interface", "", "Browse on this network interface only")
	cmd.Flags().BoolVar(&first, "first", false, "Stop after the first agent")
	return cmd
}

// printServices writes one row per service until services closes and
// returns the number printed.
func printServices(w io.Writer, services <-chan *discovery.Service, first bool) int {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "INSTANCE\tADDRESS\tTLS\tHOST")
	n := 0
	for svc := range services {
		tls := "no"
		if svc.TLS {
			tls = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", svc.Instance, svc.Address(), tls, svc.Host)
		n++
		if first {
			break
		}
	}
	return n
}
