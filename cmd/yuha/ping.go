package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func pingCmd(opts *options) *cobra.Command {
	var count int
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the agent answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1")
			}
			return opts.oneShot(cmd, func(ctx context.Context, s *session) error {
				out := cmd.OutOrStdout()
				for i := 1; i <= count; i++ {
					start := time.Now()
					if err := s.Ping(ctx); err != nil {
						return err
					}
					fmt.Fprintf(out, "reply %d from %s agent: time=%s\n",
						i, s.kind, time.Since(start).Round(time.Microsecond))

					if i < count {
						select {
						case <-ctx.Done():
							return ctx.Err()
						case <-time.After(interval):
						}
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of pings")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "Delay between pings")
	return cmd
}
