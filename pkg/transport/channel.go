package transport

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yuha-project/yuha-go/pkg/log"
	"github.com/yuha-project/yuha-go/pkg/protocol"
)

// MessageChannel carries framed request/response envelopes over a stream.
//
// A channel has a single owner and is not safe for concurrent use, except
// that Close may be called from another goroutine to abort a blocked
// operation. There is no request identifier on the wire: the n-th response
// answers the n-th request, so callers keep at most one request
// outstanding.
type MessageChannel struct {
	id         string
	kind       Kind
	remoteAddr string

	stream Stream
	framer *Framer
	logger log.Logger

	// requestSent is when the outstanding request went out.
	requestSent time.Time
	closed      atomic.Bool
}

// ChannelOption configures a MessageChannel.
type ChannelOption func(*MessageChannel)

// WithChannelID overrides the generated connection ID.
func WithChannelID(id string) ChannelOption {
	return func(c *MessageChannel) { c.id = id }
}

// WithProtocolLogger enables protocol event capture for the channel.
func WithProtocolLogger(logger log.Logger) ChannelOption {
	return func(c *MessageChannel) { c.logger = logger }
}

// WithRemoteAddr records the peer address in log events.
func WithRemoteAddr(addr string) ChannelOption {
	return func(c *MessageChannel) { c.remoteAddr = addr }
}

// NewMessageChannel wraps a stream. The channel owns the stream and closes
// it on Close.
func NewMessageChannel(stream Stream, kind Kind, opts ...ChannelOption) *MessageChannel {
	c := &MessageChannel{
		id:     uuid.New().String(),
		kind:   kind,
		stream: stream,
		framer: NewFramer(stream),
	}
	if conn, ok := stream.(interface{ RemoteAddr() net.Addr }); ok && conn.RemoteAddr() != nil {
		c.remoteAddr = conn.RemoteAddr().String()
	}
	for _, opt := range opts {
		opt(c)
	}

	c.framer.SetLogger(c.logger, c.id)
	c.framer.transport = kind.String()
	return c
}

// ID returns the connection ID.
func (c *MessageChannel) ID() string { return c.id }

// Kind returns the transport kind the channel runs on.
func (c *MessageChannel) Kind() Kind { return c.kind }

// Capabilities returns the capabilities of the channel's transport.
func (c *MessageChannel) Capabilities() Capabilities { return CapabilitiesOf(c.kind) }

// RemoteAddr returns the peer address, or "" if unknown.
func (c *MessageChannel) RemoteAddr() string { return c.remoteAddr }

// Send sends a raw payload as one frame.
func (c *MessageChannel) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if err := c.framer.Send(payload); err != nil {
		if c.closed.Load() {
			return ErrChannelClosed
		}
		c.logError(err, "send")
		return err
	}
	return nil
}

// Receive returns the next raw frame payload.
func (c *MessageChannel) Receive() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}
	payload, err := c.framer.Receive()
	if err != nil {
		if c.closed.Load() {
			return nil, ErrChannelClosed
		}
		c.logError(err, "receive")
		return nil, err
	}
	return payload, nil
}

// SendRequest encodes and sends a request. Nothing is written if encoding
// fails.
func (c *MessageChannel) SendRequest(req *protocol.Request) error {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		serr := &SerializationError{Direction: DirectionRequest, Reason: ReasonEncode, Err: err}
		c.logError(serr, "send_request")
		return serr
	}
	if err := c.Send(data); err != nil {
		return err
	}
	c.requestSent = time.Now()
	c.logRequest(req, log.DirectionOut)
	return nil
}

// ReceiveRequest receives and decodes a request. A frame that fails to
// decode is consumed and not retried.
func (c *MessageChannel) ReceiveRequest() (*protocol.Request, error) {
	data, err := c.Receive()
	if err != nil {
		return nil, err
	}
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		serr := &SerializationError{Direction: DirectionRequest, Reason: ReasonDecode, Err: err}
		c.logError(serr, "receive_request")
		return nil, serr
	}
	c.logRequest(req, log.DirectionIn)
	return req, nil
}

// SendResponse encodes and sends a response.
func (c *MessageChannel) SendResponse(resp protocol.Response) error {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		serr := &SerializationError{Direction: DirectionResponse, Reason: ReasonEncode, Err: err}
		c.logError(serr, "send_response")
		return serr
	}
	if err := c.Send(data); err != nil {
		return err
	}
	c.logResponse(resp, log.DirectionOut, nil)
	return nil
}

// ReceiveResponse receives and decodes a response.
func (c *MessageChannel) ReceiveResponse() (protocol.Response, error) {
	data, err := c.Receive()
	if err != nil {
		return nil, err
	}

	var rtt *time.Duration
	if !c.requestSent.IsZero() {
		d := time.Since(c.requestSent)
		rtt = &d
		c.requestSent = time.Time{}
	}

	resp, err := protocol.DecodeResponse(data)
	if err != nil {
		serr := &SerializationError{Direction: DirectionResponse, Reason: ReasonDecode, Err: err}
		c.logError(serr, "receive_response")
		return nil, serr
	}
	c.logResponse(resp, log.DirectionIn, rtt)
	return resp, nil
}

// Close closes the underlying stream. Later operations, and any blocked
// in another goroutine, return ErrChannelClosed.
func (c *MessageChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.stream.Close()
}

func (c *MessageChannel) baseEvent(dir log.Direction, layer log.Layer, cat log.Category) log.Event {
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        layer,
		Category:     cat,
		Transport:    c.kind.String(),
		RemoteAddr:   c.remoteAddr,
	}
}

func (c *MessageChannel) logRequest(req *protocol.Request, dir log.Direction) {
	if c.logger == nil {
		return
	}
	event := c.baseEvent(dir, log.LayerWire, log.CategoryMessage)
	event.Message = &log.MessageEvent{
		Type:      log.MessageTypeRequest,
		Operation: string(req.Op),
	}
	c.logger.Log(event)
}

func (c *MessageChannel) logResponse(resp protocol.Response, dir log.Direction, rtt *time.Duration) {
	if c.logger == nil {
		return
	}
	msg := &log.MessageEvent{
		Type:         log.MessageTypeResponse,
		ResponseType: string(resp.Type()),
		Duration:     rtt,
	}
	protocol.Match(resp,
		func() struct{} { return struct{}{} },
		func(m string) struct{} { msg.ErrorMessage = m; return struct{}{} },
		func(items []protocol.Item) struct{} { msg.ItemCount = len(items); return struct{}{} },
	)
	event := c.baseEvent(dir, log.LayerWire, log.CategoryMessage)
	event.Message = msg
	c.logger.Log(event)
}

func (c *MessageChannel) logError(err error, context string) {
	if c.logger == nil {
		return
	}
	layer := log.LayerTransport
	if _, ok := err.(*SerializationError); ok {
		layer = log.LayerWire
	}
	event := c.baseEvent(log.DirectionIn, layer, log.CategoryError)
	event.Error = &log.ErrorEventData{
		Layer:   layer,
		Message: err.Error(),
		Context: context,
	}
	c.logger.Log(event)
}
