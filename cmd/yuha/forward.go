package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/spf13/cobra"
)

func forwardCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "forward",
		Aliases: []string{"fwd"},
		Short:   "Manage port forwards registered with the agent",
	}
	cmd.AddCommand(forwardStartCmd(opts), forwardStopCmd(opts), forwardListCmd(opts))
	return cmd
}

func forwardStartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "start <local-port> <remote-host:remote-port>",
		Short:   "Register a port forward",
		Example: "  yuha forward start 8080 db:5432",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := parsePort(args[0])
			if err != nil {
				return err
			}
			host, remote, err := parseHostPort(args[1])
			if err != nil {
				return err
			}
			return opts.oneShot(cmd, func(ctx context.Context, s *session) error {
				return s.StartPortForward(ctx, local, host, remote)
			})
		},
	}
}

func forwardStopCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <local-port>",
		Short: "Remove a port forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := parsePort(args[0])
			if err != nil {
				return err
			}
			return opts.oneShot(cmd, func(ctx context.Context, s *session) error {
				return s.StopPortForward(ctx, local)
			})
		},
	}
}

func forwardListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered port forwards",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.oneShot(cmd, func(ctx context.Context, s *session) error {
				forwards, err := s.ListPortForwards(ctx)
				if err != nil {
					return err
				}
				printForwards(cmd.OutOrStdout(), forwards)
				return nil
			})
		},
	}
}

func printForwards(w io.Writer, forwards []string) {
	if len(forwards) == 0 {
		fmt.Fprintln(w, "No port forwards")
		return
	}
	for _, f := range forwards {
		fmt.Fprintln(w, f)
	}
}

// parsePort parses a TCP port in 1..65535.
func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}

// parseHostPort splits "host:port". A bare port means localhost.
func parseHostPort(s string) (string, uint16, error) {
	if port, err := parsePort(s); err == nil {
		return "localhost", port, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("invalid remote %q: %w", s, err)
	}
	if host == "" {
		host = "localhost"
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
