// Package transport implements a length-prefixed, encrypted, compressed,
// typed-message transport layered over a connected TCP socket. Each
// Connection maintains a full-duplex receive/send state machine that
// reassembles incoming bytes into discrete messages, runs them through a
// decompress/decrypt/deserialize pipeline, and emits lifecycle events to an
// upstream listener; outgoing messages are run through the inverse
// pipeline, framed, and written in submission order.
package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Connection wraps a *net.TCPConn and drives the receive and send pumps
// on top of it. It is safe to call Send, TrySend, SendBlocking, and Close
// concurrently from any goroutine; Run must only be called once and owns
// the connection's lifetime.
type Connection struct {
	conn     *net.TCPConn
	pool     *ants.Pool
	registry *Registry
	pipeline *pipeline
	opts     connOptions

	connected   atomic.Bool
	connectedAt time.Time

	userDataMu sync.RWMutex
	userData   any

	chunkCh        chan []byte
	readingPackets atomic.Bool
	decoder        *frameDecoder

	sendMu         sync.Mutex
	sendCh         chan []byte
	sendingPackets atomic.Bool

	remoteAddr *net.TCPAddr
	localAddr  *net.TCPAddr

	listener *Listener
}

// connOptions holds the configuration assembled from ConnOptions passed to
// NewConnection.
type connOptions struct {
	registry      *Registry
	cipher        Cipher
	compressor    Compressor
	bufferPool    BufferPool
	logger        Logger
	chanCapacity  int
	onStateChange func(c *Connection, connected bool)
	onRead        func(c *Connection, msg Message)
	onWrite       func(c *Connection, msg Message, length int, raw []byte)
}

// defaultChanCapacity is the high-water mark applied to both the chunk and
// send channels when ChanCapacityOption isn't supplied.
const defaultChanCapacity = 256

// defaultReadBufferSize is the size of buffers handed out by the default
// BufferPool when BufferPoolOption isn't supplied.
const defaultReadBufferSize = 64 * 1024

func checkConnOptions(o *connOptions) error {
	if o.registry == nil {
		return errors.Wrap(ErrInvalidOption, "Registry is required")
	}
	if o.cipher == nil {
		return errors.Wrap(ErrInvalidOption, "Cipher is required")
	}
	if o.compressor == nil {
		return errors.Wrap(ErrInvalidOption, "Compressor is required")
	}
	if o.bufferPool == nil {
		o.bufferPool = NewBufferPool(defaultReadBufferSize)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	if o.chanCapacity <= 0 {
		o.chanCapacity = defaultChanCapacity
	}
	return nil
}

// NewConnection wraps conn with a Connection ready to Run. pool is the
// shared worker pool both of the connection's pumps dispatch onto; it is
// typically owned by a Listener and shared across every accepted
// connection. Registry, Cipher, and Compressor options are required, since
// there is no identity default in production use.
func NewConnection(conn *net.TCPConn, pool *ants.Pool, opts ...ConnOption) (*Connection, error) {
	var o connOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkConnOptions(&o); err != nil {
		return nil, err
	}

	c := &Connection{
		conn:       conn,
		pool:       pool,
		registry:   o.registry,
		opts:       o,
		chunkCh:    make(chan []byte, o.chanCapacity),
		sendCh:     make(chan []byte, o.chanCapacity),
		decoder:    newFrameDecoder(),
		remoteAddr: conn.RemoteAddr().(*net.TCPAddr),
		localAddr:  conn.LocalAddr().(*net.TCPAddr),
	}
	c.pipeline = &pipeline{cipher: o.cipher, compressor: o.compressor, registry: o.registry}
	c.opts.logger = withFields(c.opts.logger, "remote", c.remoteAddr)
	c.connected.Store(true)
	return c, nil
}

// Run starts the connection's receive producer and blocks until the
// connection closes or ctx is canceled. It fires the initial
// OnStateChange(true) event before entering the read loop, the Go
// equivalent of "posts a first read request" in the connection's
// lifecycle description, since net.TCPConn has no async BeginReceive to
// post; a dedicated goroutine blocking in Read stands in for the
// kernel-callback producer the original design assumed.
func (c *Connection) Run(ctx context.Context) error {
	c.connected.Store(true)
	c.connectedAt = time.Now()
	c.fireStateChange(true)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, child := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-child.Done()
		_ = c.Close()
		return nil
	})
	group.Go(func() error {
		defer cancel()
		return c.readLoop()
	})

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		c.opts.logger.Info("connection closed with error", "error", err)
	} else {
		c.opts.logger.Info("connection closed")
	}
	return err
}

// readLoop is the receive producer: it blocks on Read using pooled
// buffers, copies each completed read into its own chunk, and hands the
// chunk to enqueueChunk. A zero-byte or errored read (io.EOF on a
// graceful remote close, any other error on a transport failure) ends the
// loop and disconnects.
func (c *Connection) readLoop() error {
	for {
		buf := c.opts.bufferPool.Acquire()
		n, err := c.conn.Read(buf)
		if err != nil {
			c.opts.bufferPool.Release(buf)
			_ = c.Close()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if n == 0 {
			c.opts.bufferPool.Release(buf)
			_ = c.Close()
			return nil
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		c.opts.bufferPool.Release(buf)

		if c.listener != nil {
			c.listener.bytesReceived.Add(uint64(n))
		}

		c.enqueueChunk(chunk)
	}
}

// Send serializes msg through the pipeline and queues it for the send
// pump, blocking if the send channel is at its configured high-water
// mark. Serialization and enqueueing happen atomically under the
// connection's send lock so submission order from any single goroutine is
// preserved on the wire.
func (c *Connection) Send(msg Message) error {
	if !c.connected.Load() {
		return ErrConnectionClosed
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	payload, err := c.pipeline.encode(msg)
	if err != nil {
		return errors.Wrap(err, "send")
	}

	c.enqueueSend(payload)
	c.fireWrite(msg, len(payload), payload)
	return nil
}

// TrySend is the non-blocking variant of Send: if the send channel is at
// its high-water mark it returns ErrSendBufferFull instead of blocking the
// caller.
func (c *Connection) TrySend(msg Message) error {
	if !c.connected.Load() {
		return ErrConnectionClosed
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	payload, err := c.pipeline.encode(msg)
	if err != nil {
		return errors.Wrap(err, "try send")
	}

	select {
	case c.sendCh <- payload:
	default:
		return ErrSendBufferFull
	}
	c.startSendConsumer()
	c.fireWrite(msg, len(payload), payload)
	return nil
}

// SendBlocking submits msg then polls every 10ms until the send pump has
// drained it (sendingPackets returns to false) or ctx is canceled. It
// exists for callers that need write ordering relative to a subsequent
// Close.
func (c *Connection) SendBlocking(ctx context.Context, msg Message) error {
	if err := c.Send(msg); err != nil {
		return err
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !c.sendingPackets.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close idempotently disconnects the connection: it fires OnStateChange
// (false) exactly once, closes the socket, disposes the user data slot,
// and removes the connection from its parent listener's registry unless
// the listener is in batch-processing mode.
func (c *Connection) Close() error {
	if !c.connected.CompareAndSwap(true, false) {
		return nil
	}

	c.fireStateChange(false)
	err := c.conn.Close()

	c.userDataMu.Lock()
	c.userData = nil
	c.userDataMu.Unlock()

	if c.listener != nil && !c.listener.processing.Load() {
		c.listener.removeConnection(c)
	}

	return err
}

// IsConnected reports whether the connection is still open.
func (c *Connection) IsConnected() bool {
	return c.connected.Load()
}

// ConnectedAt returns the time Run began serving this connection.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote endpoint of the connection.
func (c *Connection) RemoteAddr() *net.TCPAddr {
	return c.remoteAddr
}

// LocalAddr returns the local endpoint of the connection.
func (c *Connection) LocalAddr() *net.TCPAddr {
	return c.localAddr
}

// UserData returns the opaque, application-attached state slot.
func (c *Connection) UserData() any {
	c.userDataMu.RLock()
	defer c.userDataMu.RUnlock()
	return c.userData
}

// SetUserData sets the opaque, application-attached state slot.
func (c *Connection) SetUserData(v any) {
	c.userDataMu.Lock()
	defer c.userDataMu.Unlock()
	c.userData = v
}

// Equal reports whether two connections are the same peer, comparing
// remote (address, port) rather than the port alone, since nothing
// guarantees port uniqueness once a connection spans more than one
// local network interface.
func (c *Connection) Equal(other *Connection) bool {
	if other == nil {
		return false
	}
	return c.remoteAddr.IP.Equal(other.remoteAddr.IP) && c.remoteAddr.Port == other.remoteAddr.Port
}

func (c *Connection) fireStateChange(connected bool) {
	if c.opts.onStateChange != nil {
		c.opts.onStateChange(c, connected)
	}
}

func (c *Connection) fireRead(msg Message) {
	if c.opts.onRead != nil {
		c.opts.onRead(c, msg)
	}
}

func (c *Connection) fireWrite(msg Message, length int, raw []byte) {
	if c.opts.onWrite != nil {
		c.opts.onWrite(c, msg, length, raw)
	}
}
