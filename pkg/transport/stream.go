package transport

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// Stream is a bidirectional byte stream a framer runs on.
type Stream interface {
	io.ReadWriteCloser
}

// pipeWriteBufferSize holds one maximal frame.
const pipeWriteBufferSize = LengthPrefixSize + MaxPayloadSize

// PipeStream joins a reader and a writer into one Stream. Writes are
// buffered until Flush, which the framer calls after every frame.
type PipeStream struct {
	r io.ReadCloser
	w io.WriteCloser
	b *bufio.Writer

	onClose   func() error
	closeOnce sync.Once
	closeErr  error
}

// NewPipeStream creates a stream reading from r and writing to w. onClose,
// if non-nil, runs after both halves are closed; process based transports
// use it to reap the child.
func NewPipeStream(r io.ReadCloser, w io.WriteCloser, onClose func() error) *PipeStream {
	return &PipeStream{
		r:       r,
		w:       w,
		b:       bufio.NewWriterSize(w, pipeWriteBufferSize),
		onClose: onClose,
	}
}

// Read reads from the read half.
func (p *PipeStream) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Write buffers b for the write half.
func (p *PipeStream) Write(b []byte) (int, error) {
	return p.b.Write(b)
}

// Flush writes buffered data to the write half.
func (p *PipeStream) Flush() error {
	return p.b.Flush()
}

// Close closes both halves. Unflushed data is dropped; Close may run
// concurrently with a blocked Read or Write to abort it.
func (p *PipeStream) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if err := p.w.Close(); err != nil && !isClosed(err) {
			errs = append(errs, err)
		}
		if err := p.r.Close(); err != nil && !isClosed(err) {
			errs = append(errs, err)
		}
		if p.onClose != nil {
			if err := p.onClose(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

// nopReadCloser adapts a reader that has no Close of its own.
type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }
