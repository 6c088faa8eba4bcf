package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Listener accepts TCP connections and wraps each one in a Connection
// constructed from a shared ConnOption set and a shared worker pool. It
// tracks every live connection so callers can enumerate or broadcast, and
// accumulates the byte counters each Connection reports back through its
// listener pointer.
type Listener struct {
	listener *net.TCPListener
	pool     *ants.Pool
	connOpts []ConnOption
	logger   Logger

	keepAlive       bool
	keepAlivePeriod time.Duration

	shutdownTimeout time.Duration

	bytesReceived atomic.Uint64
	bytesSent     atomic.Uint64

	// processing suppresses per-connection self-removal from conns while
	// a batch operation (e.g. Broadcast) is iterating the map, so a
	// connection closing mid-broadcast doesn't mutate the map out from
	// under the iteration.
	processing atomic.Bool

	mu    sync.Mutex
	conns map[connKey]*Connection

	shutdown    bool
	shutdownNow chan struct{}
}

// connKey identifies a Connection by remote (address, port), matching
// Connection.Equal's widened (address, port) comparison.
type connKey struct {
	ip   string
	port int
}

func keyOf(c *Connection) connKey {
	return connKey{ip: c.remoteAddr.IP.String(), port: c.remoteAddr.Port}
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// ListenerLoggerOption sets the logger for the listener and every
// connection it accepts (connections may still override it individually
// via LoggerOption in connOpts).
func ListenerLoggerOption(logger Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// ListenerShutdownTimeoutOption sets the graceful shutdown timeout. When
// the context passed to Serve is canceled, the listener waits up to this
// duration before closing, giving in-flight accepts time to complete.
// Default is 0 (immediate shutdown).
func ListenerShutdownTimeoutOption(timeout time.Duration) ListenerOption {
	return func(l *Listener) {
		l.shutdownTimeout = timeout
	}
}

// ListenerKeepAliveOption enables TCP keepalive on every accepted
// connection with the given probe period.
func ListenerKeepAliveOption(period time.Duration) ListenerOption {
	return func(l *Listener) {
		l.keepAlive = true
		l.keepAlivePeriod = period
	}
}

// NewListener binds addr and returns a Listener ready to Serve. pool is
// the shared worker pool handed to every accepted Connection; connOpts
// are the ConnOptions applied to each one (Registry, Cipher, Compressor
// are required there, exactly as for a standalone NewConnection).
func NewListener(addr *net.TCPAddr, pool *ants.Pool, connOpts []ConnOption, opts ...ListenerOption) (*Listener, error) {
	ln, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		listener:    ln,
		pool:        pool,
		connOpts:    connOpts,
		logger:      slog.Default(),
		conns:       make(map[connKey]*Connection),
		shutdownNow: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = withFields(l.logger, "listener_addr", ln.Addr())
	return l, nil
}

// Serve accepts connections until ctx is canceled or an unrecoverable
// accept error occurs. Each accepted connection is wrapped in a
// Connection and run in its own goroutine against ctx, so canceling ctx
// also tears down every live connection via Connection.Run's own
// cancellation path.
func (l *Listener) Serve(ctx context.Context) error {
	l.logger.Info("listener started")

	go func() {
		<-ctx.Done()

		if l.shutdownTimeout > 0 {
			l.logger.Info("graceful shutdown initiated", "timeout", l.shutdownTimeout)
			select {
			case <-time.After(l.shutdownTimeout):
			case <-l.shutdownNow:
				l.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		l.mu.Lock()
		l.shutdown = true
		l.mu.Unlock()
		_ = l.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := l.listener.AcceptTCP()
		if err != nil {
			l.mu.Lock()
			isShutdown := l.shutdown
			l.mu.Unlock()

			if isShutdown {
				l.logger.Info("listener stopped")
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.logger.Error("accept error", "error", err)
			return err
		}

		l.applyKeepAlive(conn)
		l.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())

		go l.handle(ctx, conn)
	}
}

func (l *Listener) applyKeepAlive(conn *net.TCPConn) {
	_ = conn.SetNoDelay(true)
	if !l.keepAlive {
		return
	}
	_ = conn.SetKeepAlive(true)
	_ = conn.SetKeepAlivePeriod(l.keepAlivePeriod)
}

func (l *Listener) handle(ctx context.Context, conn *net.TCPConn) {
	opts := append([]ConnOption{LoggerOption(l.logger)}, l.connOpts...)
	c, err := NewConnection(conn, l.pool, opts...)
	if err != nil {
		l.logger.Error("failed to construct connection", "remote_addr", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}
	c.listener = l

	l.mu.Lock()
	l.conns[keyOf(c)] = c
	l.mu.Unlock()

	if err := c.Run(ctx); err != nil {
		l.logger.Debug("connection run ended", "remote_addr", conn.RemoteAddr(), "error", err)
	}
}

// removeConnection drops c from the live-connection registry. Called by
// Connection.Close unless the listener is mid-Broadcast.
func (l *Listener) removeConnection(c *Connection) {
	l.mu.Lock()
	delete(l.conns, keyOf(c))
	l.mu.Unlock()
}

// Broadcast sends msg to every currently connected Connection, skipping
// ones whose Send fails (most commonly because they disconnected
// concurrently) rather than aborting the whole broadcast. While it runs,
// per-connection self-removal from the registry is suppressed so the
// connection slice snapshotted below stays valid for the duration of the
// call.
func (l *Listener) Broadcast(msg Message) {
	l.processing.Store(true)
	defer l.processing.Store(false)

	l.mu.Lock()
	snapshot := make([]*Connection, 0, len(l.conns))
	for _, c := range l.conns {
		snapshot = append(snapshot, c)
	}
	l.mu.Unlock()

	for _, c := range snapshot {
		if err := c.Send(msg); err != nil {
			l.logger.Warn("broadcast send failed", "remote_addr", c.RemoteAddr(), "error", err)
		}
	}

	l.mu.Lock()
	for _, c := range snapshot {
		if !c.IsConnected() {
			delete(l.conns, keyOf(c))
		}
	}
	l.mu.Unlock()
}

// Connections returns a snapshot slice of all currently connected peers.
func (l *Listener) Connections() []*Connection {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Connection, 0, len(l.conns))
	for _, c := range l.conns {
		out = append(out, c)
	}
	return out
}

// Close stops the listener by closing the underlying socket, bypassing
// any configured shutdown timeout. Blocked Accept calls return with an
// error.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.shutdown = true
	l.mu.Unlock()

	select {
	case l.shutdownNow <- struct{}{}:
	default:
	}

	return l.listener.Close()
}

// Addr returns the listener's bound network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// BytesReceived returns the cumulative number of bytes read off the wire,
// frame headers included, across every connection this listener has accepted, current and past.
func (l *Listener) BytesReceived() uint64 {
	return l.bytesReceived.Load()
}

// BytesSent returns the cumulative number of framed bytes written across
// every connection this listener has accepted, current and past.
func (l *Listener) BytesSent() uint64 {
	return l.bytesSent.Load()
}
