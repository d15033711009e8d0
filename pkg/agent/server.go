package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yuha-project/yuha-go/pkg/log"
	"github.com/yuha-project/yuha-go/pkg/transport"
)

// DefaultHandshakeTimeout bounds the TLS handshake of an accepted
// connection.
const DefaultHandshakeTimeout = 10 * time.Second

// ServerConfig configures a Server.
type ServerConfig struct {
	// Handler answers requests. Required.
	Handler Handler

	// HandshakeTimeout bounds TLS handshakes (default: 10s).
	HandshakeTimeout time.Duration

	// Logger for operational logging (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger captures protocol events (optional).
	ProtocolLogger log.Logger

	// OnConnect is called when a session starts.
	OnConnect func(ch *transport.MessageChannel)

	// OnDisconnect is called when a session ends, with its error if any.
	OnDisconnect func(ch *transport.MessageChannel, err error)
}

// Server accepts direct socket connections and serves one session per
// connection.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	listener net.Listener

	conns   map[*transport.MessageChannel]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: config,
		logger: logger.With("component", "agent-server"),
		conns:  make(map[*transport.MessageChannel]struct{}),
	}, nil
}

// Start begins accepting on ln. The server owns ln and closes it on Stop.
func (s *Server) Start(ctx context.Context, ln net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("server already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = ln

	s.logger.Info("agent listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every session, then waits for them.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	err := s.listener.Close()

	s.connsMu.Lock()
	for ch := range s.conns {
		ch.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active sessions.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			// Avoid spinning on persistent accept errors.
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := s.handshake(tlsConn); err != nil {
			conn.Close()
			s.logger.Warn("TLS handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
			return
		}
	}

	opts := []transport.ChannelOption{transport.WithRemoteAddr(conn.RemoteAddr().String())}
	if s.config.ProtocolLogger != nil {
		opts = append(opts, transport.WithProtocolLogger(s.config.ProtocolLogger))
	}
	ch := transport.NewMessageChannel(conn, transport.KindDirectSocket, opts...)

	s.connsMu.Lock()
	if !s.running.Load() {
		s.connsMu.Unlock()
		ch.Close()
		return
	}
	s.conns[ch] = struct{}{}
	s.connsMu.Unlock()

	s.logState(ch, "", transport.StateConnected.String(), "accepted")
	s.logger.Info("session started", "conn", ch.ID(), "remote", ch.RemoteAddr())
	if s.config.OnConnect != nil {
		s.config.OnConnect(ch)
	}

	err := Serve(s.ctx, ch, s.config.Handler)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	s.connsMu.Lock()
	delete(s.conns, ch)
	s.connsMu.Unlock()

	reason := "closed"
	if err != nil {
		reason = err.Error()
		s.logger.Warn("session ended", "conn", ch.ID(), "error", err)
	} else {
		s.logger.Info("session ended", "conn", ch.ID())
	}
	s.logState(ch, transport.StateConnected.String(), transport.StateDisconnected.String(), reason)
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(ch, err)
	}
}

func (s *Server) handshake(conn *tls.Conn) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(ctx); err != nil {
		return err
	}
	if err := transport.VerifyConnection(conn.ConnectionState()); err != nil {
		return fmt.Errorf("verify connection: %w", err)
	}
	return nil
}

func (s *Server) logState(ch *transport.MessageChannel, oldState, newState, reason string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: ch.ID(),
		Layer:        log.LayerConnection,
		Category:     log.CategoryState,
		Transport:    ch.Kind().String(),
		RemoteAddr:   ch.RemoteAddr(),
		StateChange: &log.StateChangeEvent{
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
