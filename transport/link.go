package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	// SocketBufferSize is used for both the kernel send and receive buffers.
	SocketBufferSize = 64 * 1024
)

var (
	ErrConnect          = errors.New("Failed to connect")
	ErrNotConnected     = errors.New("Link is not connected")
	ErrAlreadyConnected = errors.New("Link is already connected")
	ErrLinkClosed       = errors.New("Link is closed")
)

// KeepAlive controls TCP keep-alive. Checks start after Idle without traffic
// and repeat every Interval, so a half-open peer is noticed instead of
// hanging a reader forever.
type KeepAlive struct {
	Idle     time.Duration
	Interval time.Duration
}

var DefaultKeepAlive = KeepAlive{
	Idle:     30 * time.Second,
	Interval: 5 * time.Second,
}

// Link is a single point to point byte stream.
//
// A Link supports one writer and one reader at the same time. Anything beyond
// that must be serialised by the owner.
type Link interface {
	Connect(ctx context.Context, host string, port int) error

	// Send writes all of data or fails. A deadline on ctx bounds the write.
	Send(ctx context.Context, data []byte) (int, error)

	// Reader is the inbound side of the stream. Reads return io.EOF once the
	// remote closes.
	Reader() io.Reader

	Connected() bool

	// Close releases the underlying socket. Calling it more than once is safe.
	Close() error
}

// TCPLink is a Link over TCP.
type TCPLink struct {
	keepAlive KeepAlive

	mu     sync.RWMutex
	conn   net.Conn
	broken bool

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func NewTCPLink() *TCPLink {
	return NewTCPLinkWithKeepAlive(DefaultKeepAlive)
}

func NewTCPLinkWithKeepAlive(keepAlive KeepAlive) *TCPLink {
	return &TCPLink{
		keepAlive: keepAlive,
		closed:    make(chan struct{}),
	}
}

// NewConnLink wraps a connection that is already established, such as one
// returned by Accept or net.Pipe. A TCP connection gets the same socket
// options as a dialed link.
func NewConnLink(conn net.Conn) (*TCPLink, error) {
	l := NewTCPLink()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := configureTCP(tcpConn, l.keepAlive); err != nil {
			return nil, err
		}
	}

	l.conn = conn

	return l, nil
}

func (l *TCPLink) Connect(ctx context.Context, host string, port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isRunning() {
		return ErrLinkClosed
	}

	if l.conn != nil {
		return fmt.Errorf("%w to %s", ErrAlreadyConnected, l.conn.RemoteAddr())
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	// Keep-alive is configured by hand below, a negative value stops the
	// dialer from applying its own defaults.
	dialer := &net.Dialer{KeepAlive: -1}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w to %s: %w", ErrConnect, addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := configureTCP(tcpConn, l.keepAlive); err != nil {
			_ = conn.Close()
			return fmt.Errorf("%w to %s: %w", ErrConnect, addr, err)
		}
	}

	if !l.isRunning() {
		// Closed while dialing
		_ = conn.Close()
		return ErrLinkClosed
	}

	l.conn = conn
	l.broken = false

	return nil
}

func (l *TCPLink) Send(ctx context.Context, data []byte) (int, error) {
	conn, err := l.current()
	if err != nil {
		return 0, err
	}

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return 0, fmt.Errorf("set write deadline failed: %w", err)
		}

		defer conn.SetWriteDeadline(time.Time{})
	}

	n, err := conn.Write(data)
	if err != nil {
		l.markBroken()
		return n, fmt.Errorf("write to link failed: %w", err)
	}

	return n, nil
}

func (l *TCPLink) Reader() io.Reader {
	return linkReader{l}
}

// Connected reports whether the link has a socket that has not been closed
// and has not failed a read or a write.
func (l *TCPLink) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.conn != nil && !l.broken && l.isRunning()
}

func (l *TCPLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)

		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()

		if conn != nil {
			l.closeErr = conn.Close()
		}
	})

	return l.closeErr
}

func (l *TCPLink) RemoteAddr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.conn == nil {
		return nil
	}

	return l.conn.RemoteAddr()
}

func (l *TCPLink) current() (net.Conn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.isRunning() {
		return nil, ErrLinkClosed
	}

	if l.conn == nil {
		return nil, ErrNotConnected
	}

	return l.conn, nil
}

func (l *TCPLink) markBroken() {
	l.mu.Lock()
	l.broken = true
	l.mu.Unlock()
}

// isRunning returns true if Close has not been called
func (l *TCPLink) isRunning() bool {
	select {
	case <-l.closed:
		return false

	default:
		return true
	}
}

type linkReader struct {
	l *TCPLink
}

func (r linkReader) Read(p []byte) (int, error) {
	conn, err := r.l.current()
	if err != nil {
		return 0, err
	}

	n, err := conn.Read(p)
	if err != nil {
		r.l.markBroken()
	}

	return n, err
}

func configureTCP(conn *net.TCPConn, keepAlive KeepAlive) error {
	if err := conn.SetNoDelay(true); err != nil {
		return fmt.Errorf("set no delay failed: %w", err)
	}

	if err := conn.SetReadBuffer(SocketBufferSize); err != nil {
		return fmt.Errorf("set read buffer failed: %w", err)
	}

	if err := conn.SetWriteBuffer(SocketBufferSize); err != nil {
		return fmt.Errorf("set write buffer failed: %w", err)
	}

	if err := setKeepAlive(conn, keepAlive); err != nil {
		return fmt.Errorf("set keep-alive failed: %w", err)
	}

	return nil
}

var _ Link = (*TCPLink)(nil)
