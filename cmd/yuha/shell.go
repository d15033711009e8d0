package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/yuha-project/yuha-go/pkg/client"
	"github.com/yuha-project/yuha-go/pkg/protocol"
)

const shellHelp = `
yuha shell commands:
  Clipboard:
    get                 - Print the agent clipboard
    set <text>          - Replace the agent clipboard

  Browser:
    open <url>          - Open a URL on the agent

  Port forwards:
    forward start <local-port> <host:port>
    forward stop <local-port>
    forward list

  General:
    ping                - Round trip to the agent
    state               - Show connection state
    help                - Show this help
    quit                - Exit`

func shellCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session with the agent",
		Long: `Open a connection and read commands from a prompt. On ssh and tcp
the connection is re-established after a loss.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			s, err := opts.connect(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          s.kind.String() + "> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			sh := &shell{
				client:  s.Client,
				out:     rl.Stdout(),
				timeout: opts.timeout,
				state:   func() string { return s.manager.State().String() },
			}
			return sh.run(ctx, rl)
		},
	}
}

// shell interprets prompt lines against a client.
type shell struct {
	client  *client.Client
	out     io.Writer
	timeout time.Duration
	state   func() string
}

func (sh *shell) run(ctx context.Context, rl *readline.Instance) error {
	fmt.Fprintln(sh.out, shellHelp)

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(sh.out, "Exiting...")
			return nil
		}

		if quit := sh.exec(ctx, line); quit {
			fmt.Fprintln(sh.out, "Exiting...")
			return nil
		}
	}
}

// exec runs one line and reports whether the shell should exit.
func (sh *shell) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	if sh.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sh.timeout)
		defer cancel()
	}

	var err error
	switch cmd {
	case "help", "?":
		fmt.Fprintln(sh.out, shellHelp)

	case "get":
		var content string
		if content, err = sh.client.GetClipboard(ctx); err == nil {
			fmt.Fprintln(sh.out, content)
		}

	case "set":
		// Keep the text as typed, including inner spacing.
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), parts[0]))
		err = sh.client.SetClipboard(ctx, text)

	case "open":
		if len(args) != 1 {
			err = errors.New("usage: open <url>")
			break
		}
		err = sh.client.OpenBrowser(ctx, args[0])

	case "forward", "fwd":
		err = sh.forward(ctx, args)

	case "ping":
		start := time.Now()
		if err = sh.client.Ping(ctx); err == nil {
			fmt.Fprintf(sh.out, "pong (%s)\n", time.Since(start).Round(time.Microsecond))
		}

	case "state":
		if sh.state != nil {
			fmt.Fprintln(sh.out, sh.state())
		}

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(sh.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		sh.printError(err)
	}
	return false
}

func (sh *shell) forward(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: forward start|stop|list")
	}
	switch args[0] {
	case "start":
		if len(args) != 3 {
			return errors.New("usage: forward start <local-port> <host:port>")
		}
		local, err := parsePort(args[1])
		if err != nil {
			return err
		}
		host, remote, err := parseHostPort(args[2])
		if err != nil {
			return err
		}
		return sh.client.StartPortForward(ctx, local, host, remote)

	case "stop":
		if len(args) != 2 {
			return errors.New("usage: forward stop <local-port>")
		}
		local, err := parsePort(args[1])
		if err != nil {
			return err
		}
		return sh.client.StopPortForward(ctx, local)

	case "list", "ls":
		forwards, err := sh.client.ListPortForwards(ctx)
		if err != nil {
			return err
		}
		printForwards(sh.out, forwards)
		return nil

	default:
		return fmt.Errorf("unknown forward command %q", args[0])
	}
}

func (sh *shell) printError(err error) {
	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		fmt.Fprintf(sh.out, "agent: %s\n", remote.Message)
		return
	}
	fmt.Fprintf(sh.out, "Error: %v\n", err)
}
