package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/yuha-project/yuha-go/pkg/protocol"
)

// Clipboard stores the agent-side clipboard.
type Clipboard interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, content string) error
}

// MemoryClipboard is a process-local Clipboard.
type MemoryClipboard struct {
	mu      sync.RWMutex
	content string
}

// NewMemoryClipboard creates an empty clipboard.
func NewMemoryClipboard() *MemoryClipboard {
	return &MemoryClipboard{}
}

// Get returns the stored text.
func (c *MemoryClipboard) Get(context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.content, nil
}

// Set replaces the stored text.
func (c *MemoryClipboard) Set(_ context.Context, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = content
	return nil
}

// BrowserOpener opens a URL on the agent's host. It only ever sees URLs
// that passed ValidateBrowserURL.
type BrowserOpener func(ctx context.Context, rawURL string) error

// ErrUnsupportedURL is returned for URLs the agent refuses to open.
var ErrUnsupportedURL = errors.New("unsupported URL")

// ValidateBrowserURL accepts absolute http and https URLs with a host.
// Anything else would reach the platform handler, which also opens files
// and custom schemes.
func ValidateBrowserURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not http or https", ErrUnsupportedURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsupportedURL)
	}
	return nil
}

// SystemBrowser opens rawURL with the platform's default handler.
func SystemBrowser(ctx context.Context, rawURL string) error {
	if err := ValidateBrowserURL(rawURL); err != nil {
		return err
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", rawURL)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", rawURL)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", rawURL)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	go cmd.Wait()
	return nil
}

// Forward is one registered port forward.
type Forward struct {
	LocalPort  uint16
	RemoteHost string
	RemotePort uint16
	Started    time.Time
}

// String formats the forward as "local -> host:port".
func (f Forward) String() string {
	return strconv.Itoa(int(f.LocalPort)) + " -> " + net.JoinHostPort(f.RemoteHost, strconv.Itoa(int(f.RemotePort)))
}

// ForwardRegistry keeps the set of active forwards, one per local port.
// It records forwards only; moving bytes is left to the caller.
type ForwardRegistry struct {
	mu       sync.Mutex
	forwards map[uint16]Forward
	now      func() time.Time
}

// NewForwardRegistry creates an empty registry.
func NewForwardRegistry() *ForwardRegistry {
	return &ForwardRegistry{forwards: make(map[uint16]Forward), now: time.Now}
}

// Start registers a forward. A local port can carry one forward.
func (r *ForwardRegistry) Start(localPort uint16, remoteHost string, remotePort uint16) (Forward, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.forwards[localPort]; ok {
		return Forward{}, fmt.Errorf("port %d already forwarded (%s)", localPort, existing)
	}
	f := Forward{LocalPort: localPort, RemoteHost: remoteHost, RemotePort: remotePort, Started: r.now()}
	r.forwards[localPort] = f
	return f, nil
}

// Stop removes the forward on localPort.
func (r *ForwardRegistry) Stop(localPort uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.forwards[localPort]; !ok {
		return fmt.Errorf("no forward on port %d", localPort)
	}
	delete(r.forwards, localPort)
	return nil
}

// List returns the forwards ordered by local port.
func (r *ForwardRegistry) List() []Forward {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Forward, 0, len(r.forwards))
	for _, f := range r.forwards {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b Forward) int { return int(a.LocalPort) - int(b.LocalPort) })
	return out
}

// Len returns the number of active forwards.
func (r *ForwardRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forwards)
}

// Services bundles the built-in operation handlers. Nil fields disable the
// operations they back, which then answer "unknown operation".
type Services struct {
	Clipboard Clipboard
	Browser   BrowserOpener
	Forwards  *ForwardRegistry
}

// DefaultServices returns services backed by an in-memory clipboard, the
// system browser, and a fresh forward registry.
func DefaultServices() Services {
	return Services{
		Clipboard: NewMemoryClipboard(),
		Browser:   SystemBrowser,
		Forwards:  NewForwardRegistry(),
	}
}

// Mux returns a Mux with every available operation registered. Ping is
// always available.
func (s Services) Mux() *Mux {
	m := NewMux()
	m.HandleFunc(protocol.OpPing, func(context.Context, *protocol.Request) protocol.Response {
		return protocol.Success()
	})

	if s.Clipboard != nil {
		m.HandleFunc(protocol.OpGetClipboard, s.getClipboard)
		m.HandleFunc(protocol.OpSetClipboard, s.setClipboard)
	}
	if s.Browser != nil {
		m.HandleFunc(protocol.OpOpenBrowser, s.openBrowser)
	}
	if s.Forwards != nil {
		m.HandleFunc(protocol.OpStartPortForward, s.startForward)
		m.HandleFunc(protocol.OpStopPortForward, s.stopForward)
		m.HandleFunc(protocol.OpListPortForwards, s.listForwards)
	}
	return m
}

func (s Services) getClipboard(ctx context.Context, _ *protocol.Request) protocol.Response {
	text, err := s.Clipboard.Get(ctx)
	if err != nil {
		return protocol.Errorf("get clipboard: %v", err)
	}
	return protocol.Data(protocol.TextItem(text))
}

func (s Services) setClipboard(ctx context.Context, req *protocol.Request) protocol.Response {
	if err := s.Clipboard.Set(ctx, req.Content); err != nil {
		return protocol.Errorf("set clipboard: %v", err)
	}
	return protocol.Success()
}

func (s Services) openBrowser(ctx context.Context, req *protocol.Request) protocol.Response {
	if err := ValidateBrowserURL(req.URL); err != nil {
		return protocol.Errorf("open browser: %v", err)
	}
	if err := s.Browser(ctx, req.URL); err != nil {
		return protocol.Errorf("open browser: %v", err)
	}
	return protocol.Success()
}

func (s Services) startForward(_ context.Context, req *protocol.Request) protocol.Response {
	if _, err := s.Forwards.Start(req.LocalPort, req.RemoteHost, req.RemotePort); err != nil {
		return protocol.Errorf("%v", err)
	}
	return protocol.Success()
}

func (s Services) stopForward(_ context.Context, req *protocol.Request) protocol.Response {
	if err := s.Forwards.Stop(req.LocalPort); err != nil {
		return protocol.Errorf("%v", err)
	}
	return protocol.Success()
}

func (s Services) listForwards(context.Context, *protocol.Request) protocol.Response {
	forwards := s.Forwards.List()
	items := make([]protocol.Item, len(forwards))
	for i, f := range forwards {
		items[i] = protocol.TextItem(f.String())
	}
	return protocol.Data(items...)
}
