package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yuha-project/yuha-go/pkg/log"
	"github.com/yuha-project/yuha-go/pkg/transport"
)

// Connection errors.
var (
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrConnectPending   = errors.New("connection attempt in progress")
)

// DefaultAttemptTimeout bounds a single reconnection attempt.
const DefaultAttemptTimeout = 30 * time.Second

// Dialer establishes a new channel.
type Dialer func(ctx context.Context) (*transport.MessageChannel, error)

// TransportDialer returns a Dialer that connects tr and wraps the stream in
// a MessageChannel.
func TransportDialer(tr transport.Transport, opts ...transport.ChannelOption) Dialer {
	return func(ctx context.Context) (*transport.MessageChannel, error) {
		stream, err := tr.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return transport.NewMessageChannel(stream, tr.Kind(), opts...), nil
	}
}

// Config configures a Manager.
type Config struct {
	// Backoff parameters for reconnection.
	Backoff BackoffConfig

	// MaxAttempts bounds reconnection attempts per loss. Zero retries
	// until Close.
	MaxAttempts int

	// AttemptTimeout bounds each reconnection attempt (default: 30s).
	AttemptTimeout time.Duration

	// DisableReconnect turns a loss into failed even on reconnectable
	// transports.
	DisableReconnect bool

	// ConnectionID labels state events.
	ConnectionID string

	// Logger for operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives state change events (optional).
	ProtocolLogger log.Logger
}

// Manager drives a connection through the transport state machine and
// reconnects after losses when the transport allows it.
type Manager struct {
	mu sync.RWMutex

	kind    transport.Kind
	caps    transport.Capabilities
	state   transport.ConnectionState
	channel *transport.MessageChannel
	lastErr error
	closed  bool

	cfg     Config
	logger  *slog.Logger
	backoff *Backoff
	dial    Dialer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectCh chan struct{}

	// Callbacks
	onStateChange  func(oldState, newState transport.ConnectionState)
	onConnected    func(ch *transport.MessageChannel)
	onDisconnected func(cause error)
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a manager for a transport of the given kind. The
// reconnect loop runs until Close.
func NewManager(kind transport.Kind, dial Dialer, cfg Config) *Manager {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		kind:        kind,
		caps:        transport.CapabilitiesOf(kind),
		cfg:         cfg,
		logger:      logger.With("component", "connection", "transport", kind.String()),
		backoff:     NewBackoffWithConfig(cfg.Backoff),
		dial:        dial,
		ctx:         ctx,
		cancel:      cancel,
		reconnectCh: make(chan struct{}, 1),
	}

	m.wg.Add(1)
	go m.reconnectLoop()
	return m
}

// NewTransportManager creates a manager that dials tr.
func NewTransportManager(tr transport.Transport, cfg Config, opts ...transport.ChannelOption) *Manager {
	return NewManager(tr.Kind(), TransportDialer(tr, opts...), cfg)
}

// State returns the current connection state.
func (m *Manager) State() transport.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	return m.State() == transport.StateConnected
}

// Kind returns the transport kind.
func (m *Manager) Kind() transport.Kind { return m.kind }

// LastError returns the most recent connect or loss cause.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Channel returns the live channel.
func (m *Manager) Channel() (*transport.MessageChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.state != transport.StateConnected || m.channel == nil {
		return nil, fmt.Errorf("%w (state %s)", ErrNotConnected, m.state)
	}
	return m.channel, nil
}

// Connect establishes the connection from disconnected or failed.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.RLock()
	closed, state := m.closed, m.state
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}
	switch state {
	case transport.StateConnected:
		return ErrAlreadyConnected
	case transport.StateConnecting, transport.StateReconnecting:
		return ErrConnectPending
	}

	if err := m.transition(transport.StateConnecting, "connect requested"); err != nil {
		return err
	}

	ch, err := m.dial(ctx)
	if err != nil {
		m.setLastErr(err)
		m.transition(transport.StateFailed, err.Error())
		return err
	}
	return m.establish(ch, "handshake succeeded")
}

// Disconnect closes the connection gracefully. No reconnection follows.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.state != transport.StateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	ch := m.channel
	m.channel = nil
	m.mu.Unlock()

	err := m.transition(transport.StateDisconnected, "graceful close")
	if ch != nil {
		err = errors.Join(err, ch.Close())
	}
	m.notifyDisconnected(nil)
	return err
}

// NotifyConnectionLost reports an I/O failure on ch. Stale channels are
// ignored. Reconnectable transports enter reconnecting; others fail.
func (m *Manager) NotifyConnectionLost(ch *transport.MessageChannel, cause error) {
	m.mu.Lock()
	if m.closed || m.state != transport.StateConnected || m.channel != ch {
		m.mu.Unlock()
		return
	}
	m.channel = nil
	m.lastErr = cause
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}

	reason := "connection lost"
	if cause != nil {
		reason = cause.Error()
	}

	if m.caps.Reconnectable && !m.cfg.DisableReconnect {
		if err := m.transition(transport.StateReconnecting, reason); err == nil {
			m.notifyDisconnected(cause)
			m.triggerReconnect()
			return
		}
	}
	m.transition(transport.StateFailed, reason)
	m.notifyDisconnected(cause)
}

// Close stops reconnection and closes any live channel.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	ch := m.channel
	m.channel = nil
	state := m.state
	m.mu.Unlock()

	var err error
	switch state {
	case transport.StateConnected:
		m.transition(transport.StateDisconnected, "manager closed")
	case transport.StateReconnecting:
		m.transition(transport.StateFailed, "manager closed")
	}
	if ch != nil {
		err = ch.Close()
	}
	return err
}

// establish records a new channel and enters connected.
func (m *Manager) establish(ch *transport.MessageChannel, reason string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ch.Close()
		m.transition(transport.StateFailed, "manager closed")
		return ErrManagerClosed
	}
	m.channel = ch
	m.lastErr = nil
	m.backoff.Reset()
	m.mu.Unlock()

	if err := m.transition(transport.StateConnected, reason); err != nil {
		return err
	}

	m.mu.RLock()
	cb := m.onConnected
	m.mu.RUnlock()
	if cb != nil {
		cb(ch)
	}
	return nil
}

// transition moves to a new state if the move is legal.
func (m *Manager) transition(to transport.ConnectionState, reason string) error {
	m.mu.Lock()
	from := m.state
	if err := transport.Transition(from, to, m.caps); err != nil {
		m.mu.Unlock()
		m.logger.Warn("rejected state change", "from", from, "to", to, "reason", reason)
		return err
	}
	m.state = to
	cb := m.onStateChange
	m.mu.Unlock()

	m.logger.Info("connection state changed", "from", from.String(), "to", to.String(), "reason", reason)
	if m.cfg.ProtocolLogger != nil {
		m.cfg.ProtocolLogger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: m.cfg.ConnectionID,
			Layer:        log.LayerConnection,
			Category:     log.CategoryState,
			Transport:    m.kind.String(),
			StateChange: &log.StateChangeEvent{
				OldState: from.String(),
				NewState: to.String(),
				Reason:   reason,
			},
		})
	}
	if cb != nil {
		cb(from, to)
	}
	return nil
}

func (m *Manager) setLastErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) notifyDisconnected(cause error) {
	m.mu.RLock()
	cb := m.onDisconnected
	m.mu.RUnlock()
	if cb != nil {
		cb(cause)
	}
}

// triggerReconnect signals that reconnection should be attempted.
func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// Already pending
	}
}

// reconnectLoop runs in a goroutine and handles reconnection attempts.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

// attemptReconnect retries with backoff until connected, exhausted or
// closed.
func (m *Manager) attemptReconnect() {
	for {
		if m.State() != transport.StateReconnecting {
			return
		}

		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()

		m.mu.RLock()
		cb := m.onReconnecting
		m.mu.RUnlock()
		if cb != nil {
			cb(attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			m.transition(transport.StateFailed, "manager closed")
			return
		case <-timer.C:
		}

		if err := m.transition(transport.StateConnecting, fmt.Sprintf("retry attempt %d", attempt)); err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.AttemptTimeout)
		ch, err := m.dial(ctx)
		cancel()

		if err == nil {
			m.establish(ch, "reconnected")
			return
		}

		m.setLastErr(err)
		m.logger.Debug("reconnection attempt failed", "attempt", attempt, "error", err)

		if m.ctx.Err() != nil {
			m.transition(transport.StateFailed, "manager closed")
			return
		}
		if m.cfg.MaxAttempts > 0 && attempt >= m.cfg.MaxAttempts {
			m.transition(transport.StateFailed, "retries exhausted")
			return
		}
		m.transition(transport.StateReconnecting, err.Error())
	}
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState transport.ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful connection.
func (m *Manager) OnConnected(fn func(ch *transport.MessageChannel)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for disconnection. cause is nil for a
// graceful close.
func (m *Manager) OnDisconnected(fn func(cause error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback for reconnection attempts.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// BackoffAttempts returns the current number of reconnection attempts.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}
