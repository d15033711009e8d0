package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// processExitTimeout is how long Close waits for a child to exit on its
// own after its stdin is closed.
const processExitTimeout = 5 * time.Second

// DefaultAgentBinary is the agent executable name.
const DefaultAgentBinary = "yuha-agent"

// LocalTransport runs the agent as a child process and talks to it over
// stdin/stdout.
type LocalTransport struct {
	// Binary is the agent executable (default: yuha-agent).
	Binary string

	// Args are passed to the agent (default: --stdio).
	Args []string

	// Dir is the working directory of the child.
	Dir string

	// Env is appended to the parent's environment.
	Env []string

	// Stderr receives the child's stderr. Nil discards it.
	Stderr io.Writer
}

// Kind returns KindLocal.
func (t *LocalTransport) Kind() Kind { return KindLocal }

// Capabilities returns the local capabilities.
func (t *LocalTransport) Capabilities() Capabilities { return CapabilitiesOf(KindLocal) }

// Connect starts the agent process.
func (t *LocalTransport) Connect(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	binary := t.Binary
	if binary == "" {
		binary = DefaultAgentBinary
	}
	return startProcess(binary, agentArgs(t.Args), t.Dir, t.Env, t.Stderr)
}

func agentArgs(args []string) []string {
	if len(args) == 0 {
		return []string{"--stdio"}
	}
	return args
}

// startProcess launches name and joins its stdio into a stream. The
// process outlives any connect context; closing the stream reaps it.
func startProcess(name string, args []string, dir string, env []string, stderr io.Writer) (*PipeStream, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stderr = stderr
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	return NewPipeStream(stdout, stdin, func() error { return reap(cmd) }), nil
}

// reap waits for cmd, killing it if it does not exit in time.
func reap(cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if _, ok := err.(*exec.ExitError); ok {
			return nil
		}
		return err
	case <-time.After(processExitTimeout):
		cmd.Process.Kill()
		<-done
		return nil
	}
}
