package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yuha-project/yuha-go/internal/logview"
)

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect protocol capture files",
		Long: `Read files written with --protocol-log by yuha or yuha-agent.

Filters apply to view, export and filter: --layer (transport, wire,
connection), --direction (in, out), --category (message, state, error),
--conn-id and an RFC 3339 --time-start/--time-end window.`,
	}
	cmd.AddCommand(logViewCmd(), logStatsCmd(), logExportCmd(), logFilterCmd())
	return cmd
}

func addCriteriaFlags(cmd *cobra.Command, c *logview.Criteria) {
	f := cmd.Flags()
	f.StringVar(&c.Layer, "layer", "", "Filter by layer (transport, wire, connection)")
	f.StringVar(&c.Direction, "direction", "", "Filter by direction (in, out)")
	f.StringVar(&c.Category, "category", "", "Filter by category (message, state, error)")
	f.StringVar(&c.ConnID, "conn-id", "", "Filter by connection ID")
	f.StringVar(&c.TimeStart, "time-start", "", "Only events at or after this time (RFC3339)")
	f.StringVar(&c.TimeEnd, "time-end", "", "Only events before this time (RFC3339)")
}

func logViewCmd() *cobra.Command {
	var criteria logview.Criteria

	cmd := &cobra.Command{
		Use:   "view <file>",
		Short: "View a capture in human-readable form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := criteria.Filter()
			if err != nil {
				return err
			}
			return logview.RunView(args[0], filter, cmd.OutOrStdout())
		},
	}
	addCriteriaFlags(cmd, &criteria)
	return cmd
}

func logStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file>",
		Short: "Show statistics about a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return logview.RunStats(args[0], cmd.OutOrStdout())
		},
	}
}

func logExportCmd() *cobra.Command {
	var (
		criteria logview.Criteria
		format   string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export a capture as JSON lines or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			filter, err := criteria.Filter()
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer func() {
					if closeErr := f.Close(); err == nil {
						err = closeErr
					}
				}()
				w = f
			}
			return logview.RunExport(args[0], format, filter, w)
		},
	}
	addCriteriaFlags(cmd, &criteria)
	cmd.Flags().StringVarP(&format, "format", "f", "jsonl", "Output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func logFilterCmd() *cobra.Command {
	var (
		criteria logview.Criteria
		output   string
	)

	cmd := &cobra.Command{
		Use:   "filter <file>",
		Short: "Write matching events to a new capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := criteria.Filter()
			if err != nil {
				return err
			}
			n, err := logview.RunFilter(args[0], output, filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Filtered %d events to %s\n", n, output)
			return nil
		},
	}
	addCriteriaFlags(cmd, &criteria)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (required)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
