package transport

import "context"

// Transport establishes streams to an agent.
type Transport interface {
	// Kind returns the transport kind.
	Kind() Kind

	// Capabilities returns the capability set of the kind.
	Capabilities() Capabilities

	// Connect establishes a new stream. The caller owns and closes it.
	Connect(ctx context.Context) (Stream, error)
}

// FrameSendReceiver provides length-prefixed frame I/O.
// Implemented by Framer and MessageChannel.
type FrameSendReceiver interface {
	Send(payload []byte) error
	Receive() ([]byte, error)
}

// Compile-time interface satisfaction checks.
var (
	_ Transport         = (*TCPTransport)(nil)
	_ Transport         = (*LocalTransport)(nil)
	_ Transport         = (*WSLTransport)(nil)
	_ Transport         = (*SSHTransport)(nil)
	_ FrameSendReceiver = (*Framer)(nil)
	_ FrameSendReceiver = (*MessageChannel)(nil)
	_ Stream            = (*PipeStream)(nil)
	_ Flusher           = (*PipeStream)(nil)
)
