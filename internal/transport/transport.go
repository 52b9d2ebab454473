// Package transport provides the single full-duplex TCP connection used by a
// sync session.
//
// A Conn serializes every event onto one goroutine (the one running Serve):
// the listener's callbacks, funneled work posted with Post, and the delivery
// of inbound bytes. Inbound bytes are accumulated until the listener has
// armed an expectation with SetExpectation; exactly that many bytes are then
// handed to OnData and the expectation is cleared. Outbound buffers are
// written by a dedicated goroutine in FIFO order with one write in flight.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vkucera/task-coach/internal/log"
)

// Common errors returned by the transport package.
var (
	ErrNotConnected    = errors.New("transport: not connected")
	ErrAlreadyServing  = errors.New("transport: already serving")
	ErrUnexpectedClose = errors.New("transport: connection closed unexpectedly")
)

// Listener receives connection events. All methods are called from the
// goroutine running Serve, one at a time.
type Listener interface {
	OnConnect()
	OnData(b []byte)
	OnClose()
	OnError(err error)
}

// Error is a transport failure. Op is "connect", "read" or "write".
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config contains configuration options for a connection.
type Config struct {
	// ConnectTimeout is the timeout for establishing a connection.
	ConnectTimeout time.Duration
	// IdleTimeout bounds the wait for inbound bytes; zero disables it.
	IdleTimeout time.Duration
	// KeepAliveInterval is the TCP keep-alive period.
	KeepAliveInterval time.Duration
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		KeepAliveInterval: 30 * time.Second,
	}
}

type event struct {
	data []byte
	err  error
	op   string
	fn   func()
}

// Conn is one connection bound to at most one Listener.
type Conn struct {
	conn net.Conn
	cfg  Config

	events  chan event
	closeCh chan struct{}
	done    chan struct{}
	wake    chan struct{}

	closeOnce sync.Once
	closing   atomic.Bool
	serving   atomic.Bool

	mu         sync.Mutex
	queue      [][]byte
	flushClose bool

	// owned by the event loop
	inbox []byte
	want  int
}

// Dial connects to host:port.
func Dial(ctx context.Context, host string, port int, cfg Config) (*Conn, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}
	log.Debug().Str("peer", addr).Msg("Connected")
	return New(conn, cfg), nil
}

// New wraps an established connection.
func New(conn net.Conn, cfg Config) *Conn {
	return &Conn{
		conn:    conn,
		cfg:     cfg,
		events:  make(chan event, 16),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// RemoteAddr returns the remote address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Serve runs the event loop until the connection closes or fails. OnConnect
// is called first; exactly one of OnClose or OnError is called last. Serve
// returns nil after OnClose and the reported error after OnError.
func (c *Conn) Serve(l Listener) error {
	if !c.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	defer c.finish()

	go c.readLoop()
	go c.writeLoop()

	l.OnConnect()
	c.deliver(l)

	for {
		if c.closing.Load() {
			l.OnClose()
			return nil
		}
		select {
		case <-c.closeCh:
			l.OnClose()
			return nil
		case ev := <-c.events:
			switch {
			case ev.fn != nil:
				ev.fn()
			case ev.err != nil:
				if c.closing.Load() || errors.Is(ev.err, io.EOF) {
					l.OnClose()
					return nil
				}
				err := &Error{Op: ev.op, Err: ev.err}
				l.OnError(err)
				return err
			default:
				c.inbox = append(c.inbox, ev.data...)
			}
			c.deliver(l)
		}
	}
}

// deliver hands armed chunks to the listener while enough bytes are buffered.
func (c *Conn) deliver(l Listener) {
	for c.want > 0 && len(c.inbox) >= c.want && !c.closing.Load() {
		chunk := make([]byte, c.want)
		copy(chunk, c.inbox)
		c.inbox = c.inbox[c.want:]
		c.want = 0
		l.OnData(chunk)
	}
}

// SetExpectation arms delivery of the next n bytes. It must be called from
// the event loop, normally from a listener callback.
func (c *Conn) SetExpectation(n int) {
	if n <= 0 {
		return
	}
	c.want = n
}

// Buffered returns the number of received bytes not yet delivered.
func (c *Conn) Buffered() int {
	return len(c.inbox)
}

// Send queues b for writing. The caller must not modify b afterwards.
func (c *Conn) Send(b []byte) error {
	if c.closing.Load() {
		return ErrNotConnected
	}
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	c.mu.Lock()
	c.queue = append(c.queue, b)
	c.mu.Unlock()
	c.signal()
	return nil
}

// Close drops pending sends and closes the socket. The event loop then
// reports OnClose. Repeated calls are no-ops.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.mu.Lock()
		c.queue = nil
		c.mu.Unlock()
		err = c.conn.Close()
		close(c.closeCh)
	})
	return err
}

// CloseWhenDone closes the connection once every queued buffer is written.
func (c *Conn) CloseWhenDone() {
	c.mu.Lock()
	c.flushClose = true
	c.mu.Unlock()
	c.signal()
}

// Post runs fn on the event loop and waits for it. It reports false when
// the loop finished without running fn. Post must not be called from the
// event loop itself.
func (c *Conn) Post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	ran := make(chan struct{})
	select {
	case c.events <- event{fn: func() { fn(); close(ran) }}:
	case <-c.done:
		return false
	}
	select {
	case <-ran:
		return true
	case <-c.done:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Done is closed when Serve has returned.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) finish() {
	c.Close()
	close(c.done)
}

func (c *Conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) emit(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		if c.cfg.IdleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !c.emit(event{data: data}) {
				return
			}
		}
		if err != nil {
			c.emit(event{err: err, op: "read"})
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.wake:
		case <-c.closeCh:
			return
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				flush := c.flushClose
				c.mu.Unlock()
				if flush {
					c.Close()
					return
				}
				break
			}
			b := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			if _, err := c.conn.Write(b); err != nil {
				if !c.closing.Load() {
					c.emit(event{err: err, op: "write"})
				}
				return
			}
		}
	}
}
