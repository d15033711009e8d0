package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Operation names a request.
type Operation string

const (
	OpGetClipboard     Operation = "get_clipboard"
	OpSetClipboard     Operation = "set_clipboard"
	OpOpenBrowser      Operation = "open_browser"
	OpStartPortForward Operation = "start_port_forward"
	OpStopPortForward  Operation = "stop_port_forward"
	OpListPortForwards Operation = "list_port_forwards"
	OpPing             Operation = "ping"
)

// Validation errors.
var (
	// ErrMissingOperation is returned when a request has no operation.
	ErrMissingOperation = errors.New("request has no operation")

	// ErrInvalidUTF8 is returned for a text field that is not valid UTF-8.
	// CBOR text strings must be, and a peer rejects them otherwise.
	ErrInvalidUTF8 = errors.New("invalid UTF-8")
)

// Request is a controller-to-agent envelope.
type Request struct {
	Op Operation `cbor:"op"`

	// Content is the clipboard text for set_clipboard.
	Content string `cbor:"content,omitempty"`

	// URL is the target for open_browser.
	URL string `cbor:"url,omitempty"`

	// Port forwarding parameters.
	LocalPort  uint16 `cbor:"local_port,omitempty"`
	RemoteHost string `cbor:"remote_host,omitempty"`
	RemotePort uint16 `cbor:"remote_port,omitempty"`
}

// Validate checks the fields an operation needs. Unknown operations pass;
// the agent answers them with an error response.
func (r *Request) Validate() error {
	if !utf8.ValidString(string(r.Op)) {
		return fmt.Errorf("op: %w", ErrInvalidUTF8)
	}
	for _, f := range []struct{ name, value string }{
		{"content", r.Content},
		{"url", r.URL},
		{"remote_host", r.RemoteHost},
	} {
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("%s: %s: %w", r.Op, f.name, ErrInvalidUTF8)
		}
	}

	switch r.Op {
	case "":
		return ErrMissingOperation
	case OpOpenBrowser:
		if r.URL == "" {
			return fmt.Errorf("%s: url is required", r.Op)
		}
	case OpStartPortForward:
		if r.LocalPort == 0 || r.RemotePort == 0 {
			return fmt.Errorf("%s: local_port and remote_port are required", r.Op)
		}
		if r.RemoteHost == "" {
			return fmt.Errorf("%s: remote_host is required", r.Op)
		}
	case OpStopPortForward:
		if r.LocalPort == 0 {
			return fmt.Errorf("%s: local_port is required", r.Op)
		}
	}
	return nil
}

// String returns a compact description for logs.
func (r *Request) String() string {
	switch r.Op {
	case OpSetClipboard:
		return fmt.Sprintf("%s(%d bytes)", r.Op, len(r.Content))
	case OpOpenBrowser:
		return fmt.Sprintf("%s(%s)", r.Op, r.URL)
	case OpStartPortForward:
		return fmt.Sprintf("%s(%d->%s:%d)", r.Op, r.LocalPort, r.RemoteHost, r.RemotePort)
	case OpStopPortForward:
		return fmt.Sprintf("%s(%d)", r.Op, r.LocalPort)
	default:
		return string(r.Op)
	}
}

// GetClipboard builds a get_clipboard request.
func GetClipboard() *Request {
	return &Request{Op: OpGetClipboard}
}

// SetClipboard builds a set_clipboard request.
func SetClipboard(content string) *Request {
	return &Request{Op: OpSetClipboard, Content: content}
}

// OpenBrowser builds an open_browser request.
func OpenBrowser(url string) *Request {
	return &Request{Op: OpOpenBrowser, URL: url}
}

// StartPortForward builds a start_port_forward request.
func StartPortForward(localPort uint16, remoteHost string, remotePort uint16) *Request {
	return &Request{
		Op:         OpStartPortForward,
		LocalPort:  localPort,
		RemoteHost: remoteHost,
		RemotePort: remotePort,
	}
}

// StopPortForward builds a stop_port_forward request.
func StopPortForward(localPort uint16) *Request {
	return &Request{Op: OpStopPortForward, LocalPort: localPort}
}

// ListPortForwards builds a list_port_forwards request.
func ListPortForwards() *Request {
	return &Request{Op: OpListPortForwards}
}

// Ping builds a ping request.
func Ping() *Request {
	return &Request{Op: OpPing}
}
