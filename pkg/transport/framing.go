package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/yuha-project/yuha-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 2

	// MaxPayloadSize is the largest payload a frame can carry.
	MaxPayloadSize = 1<<16 - 1

	// InitialBufferSize is the initial capacity of the reassembly buffer.
	InitialBufferSize = 4096

	// MaxLogFrameDataSize is the maximum frame data size to include in logs (4 KB).
	// Larger frames are truncated in log events to avoid excessive memory usage.
	MaxLogFrameDataSize = 4096

	// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
	maxEmptyReads = 100

	// minReadSpace is the free space kept at the tail of the buffer.
	minReadSpace = 512
)

// Flusher is implemented by streams that buffer writes.
type Flusher interface {
	Flush() error
}

// Framer reads and writes length-prefixed frames on a byte stream.
//
// A Framer is not safe for concurrent use. After a receive fails the
// framer is broken and every later Receive returns the same error.
type Framer struct {
	r io.Reader
	w io.Writer

	// buf[off:] holds bytes read but not yet consumed.
	buf []byte
	off int

	readErr error
	err     error

	// Logging support (optional)
	logger    log.Logger
	connID    string
	transport string
}

// NewFramer creates a framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		r:   rw,
		w:   rw,
		buf: make([]byte, 0, InitialBufferSize),
	}
}

// SetLogger configures frame logging.
// Pass nil to disable logging.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.logger = logger
	f.connID = connID
}

// EncodeFrame returns the wire form of payload.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, &BufferOverflowError{Size: len(payload)}
	}
	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint16(frame, uint16(len(payload)))
	copy(frame[LengthPrefixSize:], payload)
	return frame, nil
}

// Send writes one frame and flushes the stream if it is a Flusher.
// Oversized payloads fail with *BufferOverflowError before anything is
// written.
func (f *Framer) Send(payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}

	n, err := f.w.Write(frame)
	if err == nil && n < len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return writeError(err)
	}

	if fl, ok := f.w.(Flusher); ok {
		if err := fl.Flush(); err != nil {
			return writeError(err)
		}
	}

	if f.logger != nil {
		f.logger.Log(f.makeFrameEvent(payload, log.DirectionOut))
	}
	return nil
}

// Receive returns the next complete frame payload. End of stream yields
// ErrChannelClosed no matter how many bytes of a partial frame are
// buffered.
func (f *Framer) Receive() ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}

	for {
		if payload, ok := f.nextFrame(); ok {
			if f.logger != nil {
				f.logger.Log(f.makeFrameEvent(payload, log.DirectionIn))
			}
			return payload, nil
		}
		if f.readErr != nil {
			f.err = f.readErr
			return nil, f.err
		}
		f.fill()
	}
}

// Buffered returns the number of bytes read but not yet consumed.
func (f *Framer) Buffered() int {
	return len(f.buf) - f.off
}

// nextFrame extracts a complete frame from the buffer if one is present.
func (f *Framer) nextFrame() ([]byte, bool) {
	pending := f.buf[f.off:]
	if len(pending) < LengthPrefixSize {
		return nil, false
	}
	length := int(binary.BigEndian.Uint16(pending))
	if len(pending) < LengthPrefixSize+length {
		return nil, false
	}

	payload := make([]byte, length)
	copy(payload, pending[LengthPrefixSize:])
	f.off += LengthPrefixSize + length
	if f.off == len(f.buf) {
		f.buf = f.buf[:0]
		f.off = 0
	}
	return payload, true
}

// fill performs one read into the buffer, recording a read error.
func (f *Framer) fill() {
	f.reserve()

	for empty := 0; empty < maxEmptyReads; empty++ {
		n, err := f.r.Read(f.buf[len(f.buf):cap(f.buf)])
		f.buf = f.buf[:len(f.buf)+n]
		if err != nil {
			f.readErr = readError(err)
			return
		}
		if n > 0 {
			return
		}
	}
	f.readErr = io.ErrNoProgress
}

// reserve compacts or grows the buffer so the next frame fits.
func (f *Framer) reserve() {
	pending := len(f.buf) - f.off
	need := minReadSpace
	if pending >= LengthPrefixSize {
		length := int(binary.BigEndian.Uint16(f.buf[f.off:]))
		if rest := LengthPrefixSize + length - pending; rest > need {
			need = rest
		}
	}
	if cap(f.buf)-len(f.buf) >= need {
		return
	}

	if f.off > 0 {
		copy(f.buf, f.buf[f.off:])
		f.buf = f.buf[:pending]
		f.off = 0
		if cap(f.buf)-pending >= need {
			return
		}
	}

	grown := make([]byte, pending, max(2*cap(f.buf), pending+need))
	copy(grown, f.buf)
	f.buf = grown
}

// makeFrameEvent creates a log event for a frame.
func (f *Framer) makeFrameEvent(data []byte, direction log.Direction) log.Event {
	frameData := data
	truncated := false

	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: f.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Transport:    f.transport,
		Frame: &log.FrameEvent{
			Size:      FrameSize(len(data)),
			Data:      frameData,
			Truncated: truncated,
		},
	}
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}

// isClosed reports whether err means the peer or the stream is gone.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func readError(err error) error {
	if isClosed(err) {
		return ErrChannelClosed
	}
	return fmt.Errorf("failed to read frame: %w", err)
}

func writeError(err error) error {
	if isClosed(err) {
		return ErrChannelClosed
	}
	return fmt.Errorf("failed to write frame: %w", err)
}
