package transport

import (
	"errors"
	"fmt"
)

// ErrChannelClosed indicates the peer closed the stream. Bytes of a partial
// frame buffered at that point are discarded.
var ErrChannelClosed = errors.New("channel closed")

// BufferOverflowError reports a payload larger than MaxPayloadSize.
type BufferOverflowError struct {
	Size int
}

func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds maximum of %d", e.Size, MaxPayloadSize)
}

// Serialization directions.
const (
	DirectionRequest  = "request"
	DirectionResponse = "response"
)

// Serialization reasons.
const (
	ReasonEncode = "encode"
	ReasonDecode = "decode"
)

// SerializationError reports a failure to encode or decode an envelope.
type SerializationError struct {
	// Direction is DirectionRequest or DirectionResponse.
	Direction string

	// Reason is ReasonEncode or ReasonDecode.
	Reason string

	Err error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to %s %s: %v", e.Reason, e.Direction, e.Err)
	}
	return fmt.Sprintf("failed to %s %s", e.Reason, e.Direction)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ConfigurationError reports invalid transport configuration.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}
