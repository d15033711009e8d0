package agent

import (
	"context"
	"sync"

	"github.com/yuha-project/yuha-go/pkg/protocol"
)

// Handler answers a request. A nil response is sent as Success.
type Handler interface {
	ServeRequest(ctx context.Context, req *protocol.Request) protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *protocol.Request) protocol.Response

// ServeRequest calls f(ctx, req).
func (f HandlerFunc) ServeRequest(ctx context.Context, req *protocol.Request) protocol.Response {
	return f(ctx, req)
}

// UnknownOperation is the error message for operations without a handler.
const UnknownOperation = "unknown operation"

// Mux dispatches requests by operation.
type Mux struct {
	mu       sync.RWMutex
	handlers map[protocol.Operation]Handler
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[protocol.Operation]Handler)}
}

// Handle registers h for op, replacing any earlier handler.
func (m *Mux) Handle(op protocol.Operation, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[op] = h
}

// HandleFunc registers fn for op.
func (m *Mux) HandleFunc(op protocol.Operation, fn func(ctx context.Context, req *protocol.Request) protocol.Response) {
	m.Handle(op, HandlerFunc(fn))
}

// Operations returns the registered operations.
func (m *Mux) Operations() []protocol.Operation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ops := make([]protocol.Operation, 0, len(m.handlers))
	for op := range m.handlers {
		ops = append(ops, op)
	}
	return ops
}

// ServeRequest dispatches req to the handler registered for its operation.
func (m *Mux) ServeRequest(ctx context.Context, req *protocol.Request) protocol.Response {
	m.mu.RLock()
	h, ok := m.handlers[req.Op]
	m.mu.RUnlock()
	if !ok {
		return protocol.ErrorResponse{Message: UnknownOperation}
	}
	return h.ServeRequest(ctx, req)
}
