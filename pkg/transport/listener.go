package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
)

// Listen opens a plain TCP listener for an agent.
func Listen(address string) (net.Listener, error) {
	if address == "" {
		address = fmt.Sprintf(":%d", DefaultPort)
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	return ln, nil
}

// ListenTLS opens a TLS 1.3 listener for an agent.
func ListenTLS(address string, cfg *TLSConfig) (net.Listener, error) {
	tlsConf, err := NewServerTLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	ln, err := Listen(address)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(ln, tlsConf), nil
}

// StdioStream returns a stream over the process's stdin and stdout. The
// agent uses it when launched by the local, WSL or SSH transports.
func StdioStream() *PipeStream {
	return NewPipeStream(os.Stdin, os.Stdout, nil)
}
