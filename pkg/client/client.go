package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yuha-project/yuha-go/pkg/protocol"
	"github.com/yuha-project/yuha-go/pkg/transport"
)

// Client errors.
var (
	// ErrClientFaulted is returned while the channel a cancelled call
	// abandoned mid-exchange is still the one the source serves.
	ErrClientFaulted = errors.New("client faulted: a cancelled call left the channel out of sync")

	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("client closed")
)

// TracerName is the instrumentation name of client spans.
const TracerName = "github.com/yuha-project/yuha-go/pkg/client"

// ChannelSource supplies the channel calls run on. A connection.Manager is
// a ChannelSource.
type ChannelSource interface {
	Channel() (*transport.MessageChannel, error)
	NotifyConnectionLost(ch *transport.MessageChannel, cause error)
}

// fixedSource serves one channel for the life of the client. It is only
// touched by the client goroutine.
type fixedSource struct {
	ch   *transport.MessageChannel
	lost error
}

func (s *fixedSource) Channel() (*transport.MessageChannel, error) {
	if s.lost != nil {
		return nil, s.lost
	}
	return s.ch, nil
}

func (s *fixedSource) NotifyConnectionLost(ch *transport.MessageChannel, cause error) {
	if ch != s.ch || s.lost != nil {
		return
	}
	s.lost = fmt.Errorf("%w: %v", transport.ErrChannelClosed, cause)
	if errors.Is(cause, transport.ErrChannelClosed) {
		s.lost = transport.ErrChannelClosed
	}
	ch.Close()
}

type options struct {
	logger      *slog.Logger
	tracer      trace.Tracer
	queueSize   int
	channelOpts []transport.ChannelOption
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTracerProvider sets the provider client spans come from. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp.Tracer(TracerName) }
}

// WithQueueSize sets how many calls may wait for the channel.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithChannelOptions passes options to the channel Dial creates.
func WithChannelOptions(opts ...transport.ChannelOption) Option {
	return func(o *options) { o.channelOpts = append(o.channelOpts, opts...) }
}

type result struct {
	resp protocol.Response
	err  error
}

type call struct {
	ctx  context.Context
	req  *protocol.Request
	done chan result
}

// Client serializes calls onto a channel.
type Client struct {
	src    ChannelSource
	owned  *transport.MessageChannel
	logger *slog.Logger
	tracer trace.Tracer

	calls   chan *call
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// faulted is the channel a cancelled call left out of sync. A fixed
	// channel never recovers; a source recovers once it serves another.
	faulted atomic.Pointer[transport.MessageChannel]
	fixed   bool
}

// New creates a client that owns ch and closes it on Close.
func New(ch *transport.MessageChannel, opts ...Option) *Client {
	c := newClient(&fixedSource{ch: ch}, opts)
	c.owned = ch
	c.fixed = true
	return c
}

// NewWithSource creates a client over a ChannelSource such as a
// connection.Manager. I/O failures are reported to the source; the client
// does not close channels it does not own.
func NewWithSource(src ChannelSource, opts ...Option) *Client {
	return newClient(src, opts)
}

// Dial connects tr and returns a client owning the new channel.
func Dial(ctx context.Context, tr transport.Transport, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	stream, err := tr.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", tr.Kind(), err)
	}
	return New(transport.NewMessageChannel(stream, tr.Kind(), o.channelOpts...), opts...), nil
}

func buildOptions(opts []Option) options {
	o := options{queueSize: 16}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(TracerName)
	}
	if o.queueSize < 0 {
		o.queueSize = 0
	}
	return o
}

func newClient(src ChannelSource, opts []Option) *Client {
	o := buildOptions(opts)
	c := &Client{
		src:     src,
		logger:  o.logger.With("component", "client"),
		tracer:  o.tracer,
		calls:   make(chan *call, o.queueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.run()
	return c
}

// Call sends req and waits for its response. An ErrorResponse is a
// successful call; use the protocol extraction helpers to interpret it.
func (c *Client) Call(ctx context.Context, req *protocol.Request) (protocol.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}

	ctx, span := c.tracer.Start(ctx, "yuha."+string(req.Op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("yuha.operation", string(req.Op))),
	)
	defer span.End()

	resp, err := c.submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("yuha.response", string(resp.Type())))
	if msg, ok := resp.(protocol.ErrorResponse); ok {
		span.SetStatus(codes.Error, msg.Message)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return resp, nil
}

func (c *Client) submit(ctx context.Context, req *protocol.Request) (protocol.Response, error) {
	cl := &call{ctx: ctx, req: req, done: make(chan result, 1)}

	select {
	case c.calls <- cl:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, ErrClientClosed
	}

	// run always answers a call it has taken, even while closing.
	select {
	case r := <-cl.done:
		return r.resp, r.err
	case <-c.stopped:
		select {
		case r := <-cl.done:
			return r.resp, r.err
		default:
			return nil, ErrClientClosed
		}
	}
}

// Close stops the client and closes the channel it owns. A call in flight
// finishes first.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.quit)
		<-c.stopped
		if c.owned != nil {
			err = c.owned.Close()
		}
	})
	return err
}

// Faulted reports whether a cancelled call has poisoned the current
// channel. A client over a ChannelSource clears the fault when the source
// hands out a new channel.
func (c *Client) Faulted() bool {
	return c.faulted.Load() != nil
}

func (c *Client) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.quit:
			return
		case cl := <-c.calls:
			cl.done <- c.handle(cl)
		}
	}
}

func (c *Client) handle(cl *call) result {
	if c.fixed && c.faulted.Load() != nil {
		return result{err: ErrClientFaulted}
	}
	if err := cl.ctx.Err(); err != nil {
		return result{err: err}
	}

	ch, err := c.src.Channel()
	if err != nil {
		return result{err: err}
	}
	if faulted := c.faulted.Load(); faulted != nil {
		if ch == faulted {
			return result{err: ErrClientFaulted}
		}
		c.logger.Info("fault cleared on new channel", "channel", ch.ID())
		c.faulted.Store(nil)
	}

	exchanged := make(chan result, 1)
	go func() {
		resp, err := exchange(ch, cl.req)
		exchanged <- result{resp: resp, err: err}
	}()

	select {
	case r := <-exchanged:
		if r.err != nil && isConnectionError(r.err) {
			c.logger.Warn("connection lost", "channel", ch.ID(), "op", cl.req.Op, "error", r.err)
			c.src.NotifyConnectionLost(ch, r.err)
		}
		return r
	case <-cl.ctx.Done():
		c.faulted.Store(ch)
		c.logger.Warn("call cancelled mid-exchange, closing channel", "channel", ch.ID(), "op", cl.req.Op)
		c.src.NotifyConnectionLost(ch, cl.ctx.Err())
		ch.Close()
		<-exchanged
		return result{err: cl.ctx.Err()}
	}
}

func exchange(ch *transport.MessageChannel, req *protocol.Request) (protocol.Response, error) {
	if err := ch.SendRequest(req); err != nil {
		return nil, err
	}
	return ch.ReceiveResponse()
}

// isConnectionError reports whether err leaves the channel unusable.
// Encode failures and oversized requests write nothing, so the channel
// stays in sync. A response that fails to decode means the peer speaks
// something else, and the channel is dropped.
func isConnectionError(err error) bool {
	var overflow *transport.BufferOverflowError
	if errors.As(err, &overflow) {
		return false
	}
	var serr *transport.SerializationError
	if errors.As(err, &serr) {
		return serr.Reason == transport.ReasonDecode
	}
	return true
}
