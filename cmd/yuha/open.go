package main

import (
	"context"

	"github.com/spf13/cobra"
)

func openCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "open <url>",
		Short: "Open a URL in the agent's browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.oneShot(cmd, func(ctx context.Context, s *session) error {
				return s.OpenBrowser(ctx, args[0])
			})
		},
	}
}
