package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func clipboardCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "clipboard",
		Aliases: []string{"clip"},
		Short:   "Read or write the agent clipboard",
	}
	cmd.AddCommand(clipboardGetCmd(opts), clipboardSetCmd(opts))
	return cmd
}

func clipboardGetCmd(opts *options) *cobra.Command {
	var noNewline bool

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the agent clipboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.oneShot(cmd, func(ctx context.Context, s *session) error {
				content, err := s.GetClipboard(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if noNewline || strings.HasSuffix(content, "\n") {
					_, err = fmt.Fprint(out, content)
				} else {
					_, err = fmt.Fprintln(out, content)
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&noNewline, "no-newline", "n", false, "Do not append a newline")
	return cmd
}

func clipboardSetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set [text...]",
		Short: "Replace the agent clipboard",
		Long: `Replace the agent clipboard with the given text. Without arguments
the content is read from standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				content = string(data)
			}
			return opts.oneShot(cmd, func(ctx context.Context, s *session) error {
				return s.SetClipboard(ctx, content)
			})
		},
	}
}
