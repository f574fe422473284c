// Package socket owns the Unix domain socket the driftwatch CLI and
// daemon meet on. The daemon claims the path with Listen; clients use
// Dial, which rides out daemon startup by retrying for as long as a
// daemon process is actually visible.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

var (
	// ErrAddressInUse is returned by Listen when another daemon still
	// answers on the socket path.
	ErrAddressInUse = errors.New("socket address already in use")
	// ErrNotRunning is returned by Dial when no daemon claims the
	// socket within the dial window.
	ErrNotRunning = errors.New("daemon not running")
)

const (
	_daemonName   = "driftwatchd"
	_dialWindow   = 5 * time.Second
	_dialInterval = 250 * time.Millisecond
)

// Finder reports whether a process with the given executable name is
// currently alive. The production implementation walks the OS process
// table; tests substitute canned answers.
type Finder interface {
	Alive(name string) bool
}

// Socket ties a filesystem path to the daemon expected to serve it.
type Socket struct {
	path     string
	daemon   string
	finder   Finder
	window   time.Duration
	interval time.Duration
	mode     os.FileMode
}

// Opt is a function option for configuring a Socket.
type Opt func(s *Socket)

// New returns a Socket for the given path with default settings:
// it expects the driftwatchd daemon, waits up to five seconds for it
// to start, and applies OS-appropriate permission bits on Listen.
func New(path string, opts ...Opt) *Socket {
	s := &Socket{
		path:     path,
		daemon:   _daemonName,
		finder:   ProcessTable{},
		window:   _dialWindow,
		interval: _dialInterval,
		mode:     defaultMode(),
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// WithDaemonName overrides the executable name Dial looks for when
// deciding whether retrying a failed connection can pay off.
func WithDaemonName(name string) Opt {
	return func(s *Socket) {
		s.daemon = name
	}
}

// WithFinder substitutes the process-table lookup used by Dial.
func WithFinder(f Finder) Opt {
	return func(s *Socket) {
		s.finder = f
	}
}

// WithDialWindow bounds how long Dial waits for a starting daemon and
// how often it retries in between.
func WithDialWindow(window, interval time.Duration) Opt {
	return func(s *Socket) {
		s.window = window
		s.interval = interval
	}
}

// WithMode sets the permission bits Listen applies to the socket file.
func WithMode(mode os.FileMode) Opt {
	return func(s *Socket) {
		s.mode = mode
	}
}

// Listen claims the socket path for the daemon. Leftover socket files
// from an unclean shutdown are removed first; a path another process
// still answers on is left alone and reported as ErrAddressInUse.
func (s *Socket) Listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}

	if err := s.reclaim(); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.path, err)
	}

	if err := os.Chmod(s.path, s.mode); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}

	return ln, nil
}

// Dial connects to the daemon behind the socket. A daemon that is
// still starting up has not claimed the path yet, so failed attempts
// are retried within the dial window for as long as a daemon process
// is visible. Without one, Dial fails fast with ErrNotRunning.
func (s *Socket) Dial(ctx context.Context) (net.Conn, error) {
	var (
		dialer   net.Dialer
		deadline = time.Now().Add(s.window)
	)

	for {
		conn, err := dialer.DialContext(ctx, "unix", s.path)
		if err == nil {
			return conn, nil
		}

		if time.Now().After(deadline) || !s.finder.Alive(s.daemon) {
			return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.interval):
		}
	}
}

// reclaim clears a stale socket file, refusing when something live
// still answers on it.
func (s *Socket) reclaim() error {
	conn, err := net.Dial("unix", s.path)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrAddressInUse, s.path)
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.path, err)
	}

	return nil
}

// Listen claims path for the daemon with default settings.
func Listen(path string) (net.Listener, error) {
	return New(path).Listen()
}

// Dial connects to the daemon at path with default settings.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	return New(path).Dial(ctx)
}

// defaultMode keeps the socket connectable by local users on platforms
// where the filesystem enforces connect access, and private everywhere
// else.
func defaultMode() os.FileMode {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
		return 0o666
	default:
		return 0o600
	}
}
