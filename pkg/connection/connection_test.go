package connection

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuha-project/yuha-go/pkg/log"
	"github.com/yuha-project/yuha-go/pkg/transport"
)

func TestBackoffDefaultSequence(t *testing.T) {
	b := NewBackoff()

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, exp := range expected {
		assert.Equal(t, exp, b.Current(), "attempt %d", i)
		b.Next()
	}
}

func TestBackoffJitter(t *testing.T) {
	b := NewBackoff()

	distinct := map[time.Duration]bool{}
	for i := 0; i < 20; i++ {
		d := b.Peek()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
		distinct[d] = true
	}
	assert.Greater(t, len(distinct), 1, "jitter should vary")
}

func TestBackoffResetAndAttempts(t *testing.T) {
	b := NewBackoff()
	assert.Equal(t, 0, b.Attempts())

	for i := 1; i <= 5; i++ {
		b.Next()
		assert.Equal(t, i, b.Attempts())
	}
	assert.Greater(t, b.Current(), InitialBackoff)

	b.Reset()
	assert.Equal(t, InitialBackoff, b.Current())
	assert.Equal(t, 0, b.Attempts())
}

func TestBackoffCustomConfig(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        500 * time.Millisecond,
		Multiplier: 2.0,
	})

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}
	for i, exp := range expected {
		assert.Equal(t, exp, b.Next(), "attempt %d", i)
	}
}

func TestBackoffConfigDefaults(t *testing.T) {
	cfg := NewBackoffWithConfig(BackoffConfig{Jitter: -1}).Config()
	assert.Equal(t, InitialBackoff, cfg.Initial)
	assert.Equal(t, MaxBackoff, cfg.Max)
	assert.Equal(t, BackoffMultiplier, cfg.Multiplier)
	assert.Zero(t, cfg.Jitter)
}

var errDial = errors.New("dial refused")

// fakeDialer hands out channels over net.Pipe after a number of failures.
type fakeDialer struct {
	mu    sync.Mutex
	kind  transport.Kind
	fails int
	calls int
	peers []net.Conn
}

func (d *fakeDialer) Dial(ctx context.Context) (*transport.MessageChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fails < 0 || d.calls <= d.fails {
		return nil, errDial
	}
	a, b := net.Pipe()
	d.peers = append(d.peers, b)
	return transport.NewMessageChannel(a, d.kind), nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// stateRecorder records transitions and checks each one is legal.
type stateRecorder struct {
	t      *testing.T
	caps   transport.Capabilities
	mu     sync.Mutex
	states []transport.ConnectionState
}

func (r *stateRecorder) record(from, to transport.ConnectionState) {
	assert.True(r.t, transport.CanTransition(from, to, r.caps), "illegal %s -> %s", from, to)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

func (r *stateRecorder) States() []transport.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.ConnectionState(nil), r.states...)
}

func newTestManager(t *testing.T, d *fakeDialer, cfg Config) (*Manager, *stateRecorder) {
	t.Helper()
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond}
	}
	m := NewManager(d.kind, d.Dial, cfg)
	rec := &stateRecorder{t: t, caps: transport.CapabilitiesOf(d.kind)}
	m.OnStateChange(rec.record)
	t.Cleanup(func() { m.Close() })
	return m, rec
}

func (r *stateRecorder) Last() (transport.ConnectionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return 0, false
	}
	return r.states[len(r.states)-1], true
}

// waitForState waits until the recorder has seen want as the latest state.
func waitForState(t *testing.T, rec *stateRecorder, want transport.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		last, ok := rec.Last()
		return ok && last == want
	}, 2*time.Second, time.Millisecond, "never reached %s", want)
}

func TestManagerConnect(t *testing.T) {
	d := &fakeDialer{kind: transport.KindDirectSocket}
	m, rec := newTestManager(t, d, Config{})

	assert.Equal(t, transport.StateDisconnected, m.State())
	_, err := m.Channel()
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsConnected())
	assert.Equal(t, []transport.ConnectionState{transport.StateConnecting, transport.StateConnected}, rec.States())

	ch, err := m.Channel()
	require.NoError(t, err)
	assert.Equal(t, transport.KindDirectSocket, ch.Kind())

	assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyConnected)
}

func TestManagerConnectFailure(t *testing.T) {
	d := &fakeDialer{kind: transport.KindSecureShell, fails: 1}
	m, rec := newTestManager(t, d, Config{})

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, errDial)
	assert.Equal(t, transport.StateFailed, m.State())
	assert.ErrorIs(t, m.LastError(), errDial)

	// Failed -> Connecting is an explicit fresh connect.
	require.NoError(t, m.Connect(context.Background()))
	assert.Nil(t, m.LastError())
	assert.Equal(t, []transport.ConnectionState{
		transport.StateConnecting, transport.StateFailed,
		transport.StateConnecting, transport.StateConnected,
	}, rec.States())
}

func TestManagerDisconnect(t *testing.T) {
	d := &fakeDialer{kind: transport.KindDirectSocket}
	m, _ := newTestManager(t, d, Config{})

	var causes []error
	m.OnDisconnected(func(cause error) { causes = append(causes, cause) })

	require.NoError(t, m.Connect(context.Background()))
	ch, err := m.Channel()
	require.NoError(t, err)

	require.NoError(t, m.Disconnect())
	assert.Equal(t, transport.StateDisconnected, m.State())
	assert.ErrorIs(t, ch.Send([]byte("x")), transport.ErrChannelClosed)
	assert.Equal(t, []error{nil}, causes)

	assert.ErrorIs(t, m.Disconnect(), ErrNotConnected)
	assert.Equal(t, 1, d.Calls(), "graceful close must not reconnect")
}

func TestManagerReconnects(t *testing.T) {
	d := &fakeDialer{kind: transport.KindDirectSocket}
	m, rec := newTestManager(t, d, Config{})

	var attempts []int
	var mu sync.Mutex
	m.OnReconnecting(func(attempt int, _ time.Duration) {
		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))
	first, err := m.Channel()
	require.NoError(t, err)

	// The next two dials fail.
	d.mu.Lock()
	d.fails = d.calls + 2
	d.mu.Unlock()

	m.NotifyConnectionLost(first, transport.ErrChannelClosed)
	waitForState(t, rec, transport.StateConnected)

	second, err := m.Channel()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 4, d.Calls())
	assert.Equal(t, 0, m.BackoffAttempts(), "backoff resets on success")

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	mu.Unlock()

	assert.Equal(t, []transport.ConnectionState{
		transport.StateConnecting, transport.StateConnected,
		transport.StateReconnecting,
		transport.StateConnecting, transport.StateReconnecting,
		transport.StateConnecting, transport.StateReconnecting,
		transport.StateConnecting, transport.StateConnected,
	}, rec.States())
}

func TestManagerLossOnFixedTransportFails(t *testing.T) {
	for _, kind := range []transport.Kind{transport.KindLocal, transport.KindSubsystemBridge} {
		t.Run(kind.String(), func(t *testing.T) {
			d := &fakeDialer{kind: kind}
			m, rec := newTestManager(t, d, Config{})

			require.NoError(t, m.Connect(context.Background()))
			ch, err := m.Channel()
			require.NoError(t, err)

			m.NotifyConnectionLost(ch, transport.ErrChannelClosed)
			assert.Equal(t, transport.StateFailed, m.State())
			assert.NotContains(t, rec.States(), transport.StateReconnecting)

			time.Sleep(10 * time.Millisecond)
			assert.Equal(t, 1, d.Calls())
		})
	}
}

func TestManagerDisableReconnect(t *testing.T) {
	d := &fakeDialer{kind: transport.KindSecureShell}
	m, _ := newTestManager(t, d, Config{DisableReconnect: true})

	require.NoError(t, m.Connect(context.Background()))
	ch, _ := m.Channel()
	m.NotifyConnectionLost(ch, errors.New("reset"))
	assert.Equal(t, transport.StateFailed, m.State())
}

func TestManagerRetriesExhausted(t *testing.T) {
	d := &fakeDialer{kind: transport.KindSecureShell}
	m, rec := newTestManager(t, d, Config{MaxAttempts: 2})

	require.NoError(t, m.Connect(context.Background()))
	ch, _ := m.Channel()

	d.mu.Lock()
	d.fails = -1
	d.mu.Unlock()

	m.NotifyConnectionLost(ch, transport.ErrChannelClosed)
	waitForState(t, rec, transport.StateFailed)

	assert.Equal(t, 3, d.Calls())
	assert.ErrorIs(t, m.LastError(), errDial)
	assert.Equal(t, []transport.ConnectionState{
		transport.StateConnecting, transport.StateConnected,
		transport.StateReconnecting,
		transport.StateConnecting, transport.StateReconnecting,
		transport.StateConnecting, transport.StateFailed,
	}, rec.States())
}

func TestManagerIgnoresStaleChannel(t *testing.T) {
	d := &fakeDialer{kind: transport.KindDirectSocket}
	m, _ := newTestManager(t, d, Config{})
	require.NoError(t, m.Connect(context.Background()))

	a, _ := net.Pipe()
	stale := transport.NewMessageChannel(a, transport.KindDirectSocket)
	m.NotifyConnectionLost(stale, transport.ErrChannelClosed)
	assert.Equal(t, transport.StateConnected, m.State())
}

func TestManagerCloseWhileReconnecting(t *testing.T) {
	d := &fakeDialer{kind: transport.KindDirectSocket}
	m, _ := newTestManager(t, d, Config{Backoff: BackoffConfig{Initial: time.Hour}})

	require.NoError(t, m.Connect(context.Background()))
	ch, _ := m.Channel()
	m.NotifyConnectionLost(ch, transport.ErrChannelClosed)
	assert.Equal(t, transport.StateReconnecting, m.State())

	require.NoError(t, m.Close())
	assert.Equal(t, transport.StateFailed, m.State())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Connect(context.Background()), ErrManagerClosed)
	_, err := m.Channel()
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManagerCloseConnected(t *testing.T) {
	d := &fakeDialer{kind: transport.KindDirectSocket}
	m, _ := newTestManager(t, d, Config{})
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Close())
	assert.Equal(t, transport.StateDisconnected, m.State())
}

type eventSink struct {
	mu     sync.Mutex
	events []log.Event
}

func (s *eventSink) Log(e log.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func TestManagerLogsStateEvents(t *testing.T) {
	sink := &eventSink{}
	d := &fakeDialer{kind: transport.KindSecureShell}
	m, _ := newTestManager(t, d, Config{ProtocolLogger: sink, ConnectionID: "c-1"})

	require.NoError(t, m.Connect(context.Background()))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 2)
	for _, e := range sink.events {
		assert.Equal(t, log.LayerConnection, e.Layer)
		assert.Equal(t, log.CategoryState, e.Category)
		assert.Equal(t, "c-1", e.ConnectionID)
		assert.Equal(t, "ssh", e.Transport)
	}
	assert.Equal(t, "disconnected", sink.events[0].StateChange.OldState)
	assert.Equal(t, "connecting", sink.events[0].StateChange.NewState)
	assert.Equal(t, "connected", sink.events[1].StateChange.NewState)
}

func TestTransportDialer(t *testing.T) {
	ln, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			buf := make([]byte, 1)
			conn.Read(buf)
		}
	}()

	m := NewTransportManager(&transport.TCPTransport{Address: ln.Addr().String()}, Config{})
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	ch, err := m.Channel()
	require.NoError(t, err)
	assert.Equal(t, transport.KindDirectSocket, ch.Kind())
	assert.Equal(t, ln.Addr().String(), ch.RemoteAddr())
}
