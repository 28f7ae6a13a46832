// Package socket implements the local channel between the broadcast extension
// and the host application: a Unix domain socket at a shared path, with stream
// events delivered to a delegate on one notification goroutine per connection.
package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sys/unix"
)

var (
	// ErrConnect means the endpoint could not be opened: unreachable,
	// misconfigured, or already served by another listener.
	ErrConnect = errors.New("socket connect failed")

	// ErrIO wraps transport failures after the channel was established.
	ErrIO = errors.New("socket i/o failed")

	// ErrClosed is returned for operations on a closed connection.
	ErrClosed = errors.New("socket closed")
)

// Role selects which side of the socket a connection plays.
type Role int

const (
	// RoleListen creates the socket file and accepts one peer. The host
	// application uses this role.
	RoleListen Role = iota
	// RoleDial connects to an existing socket file. The broadcast extension
	// uses this role.
	RoleDial
)

func (r Role) String() string {
	if r == RoleDial {
		return "dial"
	}
	return "listen"
}

// RetryPolicy bounds dial retries while the listener is not up yet.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	MaxTries        uint // 0 means bounded only by MaxElapsed
}

// DefaultRetryPolicy is used by dialing connections unless overridden.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxElapsed:      10 * time.Second,
}

const (
	defaultReadChunk = 64 * 1024
	eventQueueSize   = 64
)

type state int

const (
	stateNew state = iota
	stateOpening
	stateOpen
	stateClosed
)

// Option configures a Connection.
type Option func(*Connection)

// WithRole sets the connection role. The default is RoleListen.
func WithRole(r Role) Option {
	return func(c *Connection) { c.role = r }
}

// WithRetry sets the dial retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(c *Connection) { c.retry = p }
}

// WithReadChunk sets the size of a single socket read.
func WithReadChunk(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.readChunk = n
		}
	}
}

// WithLogger sets the connection logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.log = l
		}
	}
}

// Connection is one local channel. It starts closed, is opened once, and
// once closed stays closed.
type Connection struct {
	endpoint  Endpoint
	role      Role
	retry     RetryPolicy
	readChunk int
	log       *slog.Logger

	mu       sync.Mutex
	state    state
	delegate Delegate
	ln       net.Listener
	lock     *os.File
	conn     net.Conn
	pending  []byte
	events   chan Event
	quit     chan struct{}
	loopDone chan struct{}

	dispatching atomic.Bool
}

// NewConnection returns a closed connection bound to endpoint. It performs no I/O.
func NewConnection(endpoint Endpoint, opts ...Option) *Connection {
	c := &Connection{
		endpoint:  endpoint,
		retry:     DefaultRetryPolicy,
		readChunk: defaultReadChunk,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("endpoint", endpoint.Path(), "role", c.role.String())
	return c
}

// Endpoint returns the endpoint the connection is bound to.
func (c *Connection) Endpoint() Endpoint {
	return c.endpoint
}

// Open establishes the channel and starts delivering events to d.
func (c *Connection) Open(d Delegate) error {
	return c.OpenContext(context.Background(), d)
}

// OpenContext is Open with a context bounding the dial retries.
func (c *Connection) OpenContext(ctx context.Context, d Delegate) error {
	if d == nil {
		return errors.New("socket: nil delegate")
	}

	c.mu.Lock()
	switch c.state {
	case stateClosed:
		c.mu.Unlock()
		return ErrClosed
	case stateOpening, stateOpen:
		c.mu.Unlock()
		return fmt.Errorf("%w: already open", ErrConnect)
	}
	c.state = stateOpening
	c.mu.Unlock()

	var (
		ln   net.Listener
		lock *os.File
		conn net.Conn
		err  error
	)
	if c.role == RoleDial {
		conn, err = c.dial(ctx)
	} else {
		ln, lock, err = c.listen()
	}
	if err != nil {
		c.mu.Lock()
		if c.state == stateOpening {
			c.state = stateNew
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.state == stateClosed {
		// Closed while we were dialing.
		c.mu.Unlock()
		if ln != nil {
			ln.Close()
			lock.Close()
		}
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}
	c.state = stateOpen
	c.delegate = d
	c.ln = ln
	c.lock = lock
	c.conn = conn
	c.events = make(chan Event, eventQueueSize)
	c.quit = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.mu.Unlock()

	go c.notifyLoop()
	if ln != nil {
		c.log.Debug("listening")
		go c.acceptLoop(ln)
	} else {
		c.log.Debug("connected")
		c.post(Event{Kind: EventConnected})
		go c.readLoop(conn)
	}
	return nil
}

// Read returns up to limit bytes already received, or nil if none are
// pending. It never blocks on the socket. A limit of zero or less drains
// everything pending.
func (c *Connection) Read(limit int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil
	}
	n := len(c.pending)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]byte, n)
	copy(out, c.pending)
	if n == len(c.pending) {
		c.pending = c.pending[:0]
	} else {
		c.pending = c.pending[n:]
	}
	return out
}

// Write sends p to the peer.
func (c *Connection) Write(p []byte) (int, error) {
	c.mu.Lock()
	conn, st := c.conn, c.state
	c.mu.Unlock()

	if st == stateClosed {
		return 0, ErrClosed
	}
	if conn == nil {
		return 0, fmt.Errorf("%w: no peer attached", ErrIO)
	}
	n, err := conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return n, nil
}

// Close releases the channel. It is idempotent, safe from any state, and
// safe to call from inside a delegate callback. No event is dispatched
// after Close returns.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	c.delegate = nil
	c.pending = nil
	ln, conn, lock, quit, done := c.ln, c.conn, c.lock, c.quit, c.loopDone
	c.ln, c.conn, c.lock = nil, nil, nil
	c.mu.Unlock()

	if quit == nil {
		// Never opened, or Open is still dialing and will clean up.
		return nil
	}
	close(quit)

	var err error
	if ln != nil {
		err = ln.Close()
	}
	if conn != nil {
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
	}
	if lock != nil {
		lock.Close()
	}
	// When called from a callback the notification goroutine is our caller;
	// it exits as soon as the callback returns.
	if !c.dispatching.Load() {
		<-done
	}
	c.log.Debug("closed")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

func (c *Connection) listen() (net.Listener, *os.File, error) {
	path := c.endpoint.Path()
	lock, err := lockEndpoint(path)
	if err != nil {
		return nil, nil, err
	}
	// Holding the lock means any existing socket file is stale.
	if err := os.Remove(path); err == nil {
		c.log.Debug("removed stale socket file")
	} else if !os.IsNotExist(err) {
		lock.Close()
		return nil, nil, fmt.Errorf("%w: remove stale socket: %w", ErrConnect, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		lock.Close()
		return nil, nil, fmt.Errorf("%w: listen: %w", ErrConnect, err)
	}
	return ln, lock, nil
}

// lockEndpoint takes an exclusive lock on a sibling lock file so that two
// listeners never share one endpoint.
func lockEndpoint(path string) (*os.File, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s is served by another listener", ErrConnect, path)
	}
	return f, nil
}

func (c *Connection) dial(ctx context.Context) (net.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.retry.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Debug("dial failed, retrying", "err", err, "next", next)
		}),
	}
	if c.retry.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(c.retry.MaxTries))
	}

	conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", c.endpoint.Path())
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %w", ErrConnect, err)
	}
	return conn, nil
}

// acceptLoop waits for the single peer, then stops listening.
func (c *Connection) acceptLoop(ln net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		if !c.isClosed() {
			c.post(Event{Kind: EventError, Err: fmt.Errorf("%w: accept: %w", ErrConnect, err)})
		}
		return
	}

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.ln = nil
	c.mu.Unlock()
	ln.Close()

	c.log.Debug("peer attached")
	if c.post(Event{Kind: EventConnected}) {
		c.readLoop(conn)
	}
}

func (c *Connection) readLoop(conn net.Conn) {
	buf := make([]byte, c.readChunk)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			if c.state == stateClosed {
				c.mu.Unlock()
				return
			}
			c.pending = append(c.pending, buf[:n]...)
			c.mu.Unlock()
			if !c.post(Event{Kind: EventBytesAvailable, Count: n}) {
				return
			}
		}
		if err != nil {
			switch {
			case c.isClosed():
			case errors.Is(err, io.EOF):
				c.post(Event{Kind: EventClosed})
			default:
				c.post(Event{Kind: EventError, Err: fmt.Errorf("%w: read: %w", ErrIO, err)})
			}
			return
		}
	}
}

// post queues ev for the notification goroutine. It reports false once the
// connection is closed.
func (c *Connection) post(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Connection) notifyLoop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.quit:
			return
		case ev := <-c.events:
			c.mu.Lock()
			d := c.delegate
			c.mu.Unlock()
			if d == nil {
				return
			}
			c.dispatching.Store(true)
			d.HandleEvent(ev)
			c.dispatching.Store(false)
		}
	}
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}
