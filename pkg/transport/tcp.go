package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// DefaultConnectTimeout applies when neither the transport nor the context
// sets a deadline.
const DefaultConnectTimeout = 30 * time.Second

// TCPTransport connects to an agent listening on a TCP socket.
type TCPTransport struct {
	// Address is host:port of the agent.
	Address string

	// TLS enables TLS 1.3 when non-nil.
	TLS *TLSConfig

	// ConnectTimeout bounds dial and handshake (default: 30s).
	ConnectTimeout time.Duration
}

// Kind returns KindDirectSocket.
func (t *TCPTransport) Kind() Kind { return KindDirectSocket }

// Capabilities returns the direct socket capabilities.
func (t *TCPTransport) Capabilities() Capabilities { return CapabilitiesOf(KindDirectSocket) }

// Connect dials the agent and completes the TLS handshake if configured.
func (t *TCPTransport) Connect(ctx context.Context) (Stream, error) {
	if t.Address == "" {
		return nil, &ConfigurationError{Reason: "tcp address is required"}
	}

	var tlsConf *tls.Config
	if t.TLS != nil {
		var err error
		tlsConf, err = NewClientTLSConfig(t.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		if tlsConf.ServerName == "" {
			if host, _, err := net.SplitHostPort(t.Address); err == nil {
				tlsConf.ServerName = host
			}
		}
	}

	ctx, cancel := withConnectTimeout(ctx, t.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	if tlsConf == nil {
		return conn, nil
	}

	tlsConn := tls.Client(conn, tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	if err := VerifyConnection(tlsConn.ConnectionState()); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("connection verification failed: %w", err)
	}
	return tlsConn, nil
}

// withConnectTimeout applies timeout if ctx has no deadline.
func withConnectTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
