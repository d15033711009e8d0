package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTransport runs the agent on a remote host over an SSH session.
type SSHTransport struct {
	Host string
	Port string
	User string

	// KeyPath is the private key used for public key auth.
	KeyPath    string
	Passphrase []byte

	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string

	// InsecureSkipHostKey disables host key checking.
	// Only for testing - never use in production!
	InsecureSkipHostKey bool

	// Binary and Args form the remote agent command.
	Binary string
	Args   []string

	// ConnectTimeout bounds dial and handshake (default: 30s).
	ConnectTimeout time.Duration

	// Stderr receives the remote agent's stderr.
	Stderr io.Writer
}

// Kind returns KindSecureShell.
func (t *SSHTransport) Kind() Kind { return KindSecureShell }

// Capabilities returns the secure shell capabilities.
func (t *SSHTransport) Capabilities() Capabilities { return CapabilitiesOf(KindSecureShell) }

// Connect dials the host, opens a session and starts the remote agent.
func (t *SSHTransport) Connect(ctx context.Context) (Stream, error) {
	address, err := t.address()
	if err != nil {
		return nil, err
	}
	config, err := t.clientConfig()
	if err != nil {
		return nil, err
	}

	ctx, cancel := withConnectTimeout(ctx, t.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake failed: %w", err)
	}
	conn.SetDeadline(time.Time{})
	client := ssh.NewClient(clientConn, chans, reqs)

	stream, err := startSession(client, t.RemoteCommand(), t.Stderr)
	if err != nil {
		client.Close()
		return nil, err
	}
	return stream, nil
}

// RemoteCommand returns the shell-quoted agent command line.
func (t *SSHTransport) RemoteCommand() string {
	binary := t.Binary
	if binary == "" {
		binary = DefaultAgentBinary
	}
	return joinCommand(binary, agentArgs(t.Args))
}

func startSession(client *ssh.Client, command string, stderr io.Writer) (*PipeStream, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if stderr != nil {
		session.Stderr = stderr
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	if err := session.Start(command); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start remote agent: %w", err)
	}

	return NewPipeStream(nopReadCloser{stdout}, stdin, func() error {
		err := session.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return errors.Join(err, client.Close())
	}), nil
}

func (t *SSHTransport) address() (string, error) {
	host := strings.TrimSpace(t.Host)
	if host == "" {
		return "", &ConfigurationError{Reason: "ssh host is required"}
	}
	if t.Port != "" {
		return net.JoinHostPort(host, t.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (t *SSHTransport) clientConfig() (*ssh.ClientConfig, error) {
	if t.User == "" {
		return nil, &ConfigurationError{Reason: "ssh user is required"}
	}

	signer, err := t.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if t.InsecureSkipHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		hostKeyCallback, err = t.knownHostsCallback()
		if err != nil {
			return nil, err
		}
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
	}, nil
}

func (t *SSHTransport) signer() (ssh.Signer, error) {
	if t.KeyPath == "" {
		return nil, &ConfigurationError{Reason: "ssh key path is required"}
	}
	key, err := os.ReadFile(t.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	if len(t.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(key, t.Passphrase)
	}
	return ssh.ParsePrivateKey(key)
}

func (t *SSHTransport) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(t.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

func joinCommand(cmd string, args []string) string {
	var b strings.Builder
	b.WriteString(shellQuote(cmd))
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(shellQuote(arg))
	}
	return b.String()
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./=:,@%+", r):
		return false
	}
	return true
}
