package transport

import (
	"context"
	"io"
	"runtime"
)

// WSLTransport runs the agent inside a WSL distribution through wsl.exe.
type WSLTransport struct {
	// Distro selects the distribution; empty uses the default one.
	Distro string

	// Binary is the agent executable inside the distribution.
	Binary string

	Args []string

	// Executable overrides wsl.exe. Setting it also lifts the host OS
	// check.
	Executable string

	Stderr io.Writer
}

// Kind returns KindSubsystemBridge.
func (t *WSLTransport) Kind() Kind { return KindSubsystemBridge }

// Capabilities returns the subsystem bridge capabilities.
func (t *WSLTransport) Capabilities() Capabilities { return CapabilitiesOf(KindSubsystemBridge) }

// Command returns the executable and arguments Connect runs.
func (t *WSLTransport) Command() (string, []string) {
	exe := t.Executable
	if exe == "" {
		exe = "wsl.exe"
	}
	binary := t.Binary
	if binary == "" {
		binary = DefaultAgentBinary
	}

	var args []string
	if t.Distro != "" {
		args = append(args, "-d", t.Distro)
	}
	args = append(args, "--", binary)
	args = append(args, agentArgs(t.Args)...)
	return exe, args
}

// Connect starts the agent in WSL.
func (t *WSLTransport) Connect(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.Executable == "" && runtime.GOOS != "windows" {
		return nil, &ConfigurationError{Reason: "wsl transport requires a windows host"}
	}
	exe, args := t.Command()
	return startProcess(exe, args, "", nil, t.Stderr)
}
