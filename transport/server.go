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

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/sled/commands"
	"github.com/luma/sled/internal/metrics"
	"github.com/luma/sled/protocol"
)

const (
	readChunkSize = 4096
)

var ErrServerStarted = errors.New("Server has already been started")

// Server accepts SLED clients, authenticates them and answers their commands
// from a command table.
type Server struct {
	ctx        context.Context
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr      string
	reuseport bool

	maxConns int
	maxFrame int
	secret   string
	table    *commands.Table
	codec    protocol.LineCodec

	mu          sync.Mutex
	listener    net.Listener
	activeConns map[*serverConn]struct{}

	log   *zap.Logger
	trace bool
}

func NewServer(options ServerOptions) *Server {
	maxConns := options.MaxConnections
	if maxConns < 1 {
		maxConns = DefaultMaxConnections
	}

	maxFrame := options.MaxFrameSize
	if maxFrame < 1 {
		maxFrame = protocol.DefaultMaxFrameSize
	}

	secret := options.Secret
	if secret == "" {
		secret = DefaultSecret
	}

	table := options.Commands
	if table == nil {
		table = commands.Default()
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		addr:        net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:   options.Reuseport,
		maxConns:    maxConns,
		maxFrame:    maxFrame,
		secret:      secret,
		table:       table,
		activeConns: make(map[*serverConn]struct{}),
		log:         log,
		trace:       options.Trace,
	}
}

// Start binds the listener and accepts connections in the background until
// parentCtx is cancelled or Close is called.
func (s *Server) Start(parentCtx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrServerStarted
	}

	listener, err := s.listen(parentCtx)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(parentCtx)

	s.log.Info("Listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("maxConnections", s.maxConns),
		zap.Int("commands", s.table.Len()))

	s.stopWaiter.Add(1)
	go func() {
		defer s.stopWaiter.Done()
		s.acceptLoop(s.ctx, listener)
	}()

	go func() {
		<-s.ctx.Done()

		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	return nil
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	if s.reuseport {
		return reuseport.Listen("tcp", s.addr)
	}

	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", s.addr)
}

// Addr is the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.activeConns)
}

func (s *Server) MaxConnections() int {
	return s.maxConns
}

func (s *Server) Commands() *commands.Table {
	return s.table
}

// Close stops accepting, closes every live connection and waits for their
// loops to exit. It is safe to call more than once.
func (s *Server) Close() (err error) {
	s.mu.Lock()
	cancel := s.cancel
	listener := s.listener
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	s.log.Info("Stopping SLED server")
	cancel()

	if lerr := listener.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) {
		err = multierr.Append(err, lerr)
	}

	// Close active connections
	for _, conn := range s.conns() {
		err = multierr.Append(err, conn.cleanup())
	}

	s.stopWaiter.Wait()
	s.log.Info("SLED server stopped")

	return err
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	log := s.log.Named("accept")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new connections
				// that's fine.
				log.Info("Stopped accepting new connections")
				return
			}

			// One bad accept should not take the server down
			log.Warn("Failed to accept connection", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.admit(ctx, conn)
	}
}

// admit registers conn and starts its loop, or refuses it when the server is
// full. A refused connection never takes a slot.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	link, err := NewConnLink(conn)
	if err != nil {
		s.log.Warn("Failed to configure connection",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err))

		_ = conn.Close()
		return
	}

	s.mu.Lock()

	if len(s.activeConns) >= s.maxConns {
		s.mu.Unlock()

		s.log.Warn("Connection refused: server full",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Int("maxConnections", s.maxConns))

		metrics.RecordConnectionRefused()
		_ = conn.Close()
		return
	}

	c := newServerConn(ctx, s, link)
	s.activeConns[c] = struct{}{}
	total := len(s.activeConns)
	s.stopWaiter.Add(1)

	s.mu.Unlock()

	metrics.RecordConnectionAccepted()
	c.log.Info("Client connected", zap.Int("total", total))

	go func() {
		defer s.stopWaiter.Done()
		c.serve()
	}()
}

// removeConn returns the remaining connection count and whether conn was
// still registered.
func (s *Server) removeConn(conn *serverConn) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.activeConns[conn]
	delete(s.activeConns, conn)

	return len(s.activeConns), ok
}

func (s *Server) conns() []*serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]*serverConn, 0, len(s.activeConns))
	for conn := range s.activeConns {
		conns = append(conns, conn)
	}

	return conns
}

// serverConn is the per connection state. Only serve's goroutine touches
// authed and skipLF.
type serverConn struct {
	ctx    context.Context
	cancel context.CancelFunc

	srv  *Server
	link *TCPLink

	authed bool
	skipLF bool

	cleanupOnce sync.Once
	cleanupErr  error

	log *zap.Logger
}

func newServerConn(parentCtx context.Context, srv *Server, link *TCPLink) *serverConn {
	ctx, cancel := context.WithCancel(parentCtx)

	return &serverConn{
		ctx:    ctx,
		cancel: cancel,
		srv:    srv,
		link:   link,
		log:    srv.log.Named("conn").With(zap.String("remote", link.RemoteAddr().String())),
	}
}

func (c *serverConn) serve() {
	// Cancelling the connection closes the socket, which unblocks Read
	stop := context.AfterFunc(c.ctx, func() { c.cleanup() })
	defer stop()
	defer c.cleanup()

	var (
		r     = c.link.Reader()
		chunk = make([]byte, readChunkSize)
		buf   = make([]byte, 0, readChunkSize)
	)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			data := chunk[:n]

			if c.skipLF {
				c.skipLF = false
				if data[0] == protocol.LF {
					data = data[1:]
				}
			}

			buf = append(buf, data...)

			var done bool
			buf, done = c.drain(buf)
			if done {
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				c.log.Info("Client closed the connection")
			} else if c.ctx.Err() == nil {
				c.log.Warn("Client disconnected", zap.Error(err))
			}

			return
		}
	}
}

// drain handles every complete frame in buf and returns what is left over.
// done is true once the connection should be closed.
func (c *serverConn) drain(buf []byte) (rest []byte, done bool) {
	off := 0

	for {
		frame, consumed, ok := c.srv.codec.TryDecode(buf[off:])
		if !ok {
			break
		}

		if protocol.EndsInCR(buf[off:], consumed) {
			c.skipLF = true
		}

		off += consumed

		bye, err := c.handle(frame)
		if err != nil {
			c.log.Warn("Failed to reply", zap.Error(err))
			return buf, true
		}

		if bye {
			return buf, true
		}
	}

	// Keep the partial frame at the front of the buffer
	rest = append(buf[:0], buf[off:]...)

	if len(rest) > c.srv.maxFrame {
		c.log.Warn("Closing connection",
			zap.Int("buffered", len(rest)),
			zap.Error(protocol.ErrFrameTooLarge))

		return rest, true
	}

	return rest, false
}

// handle runs one frame through the handshake gate and the command table.
// bye is true when the client asked to disconnect.
func (c *serverConn) handle(frame []byte) (bye bool, err error) {
	if c.srv.trace {
		c.log.Debug("Recv", zap.ByteString("frame", frame), zap.Bool("authed", c.authed))
	}

	w := replyWriter{c}

	if !c.authed {
		if !protocol.IsHello(frame) {
			metrics.RecordFrame(metrics.FrameIgnored)
			return false, nil
		}

		if protocol.HasSecret(frame, protocol.PrefixHello, c.srv.secret) {
			c.authed = true
			metrics.RecordFrame(metrics.FrameHandshakeOk)
			c.log.Info("Client authenticated")

			return false, protocol.WriteOk(w)
		}

		metrics.RecordFrame(metrics.FrameHandshakeFailed)
		c.log.Warn("Client failed to authenticate")

		return false, protocol.WriteErr(w)
	}

	if protocol.IsBye(frame) {
		if protocol.HasSecret(frame, protocol.PrefixBye, c.srv.secret) {
			metrics.RecordFrame(metrics.FrameBye)
			c.log.Info("Client said BYE, closing")

			return true, protocol.WriteBye(w)
		}

		// Falls through to the table like any other command
		c.log.Warn("Client sent BYE with the wrong secret")
	}

	reply, ok := c.srv.table.Lookup(frame)
	if !ok {
		metrics.RecordFrame(metrics.FrameUnknown)
		return false, protocol.WriteUnknown(w)
	}

	metrics.RecordFrame(metrics.FrameCommand)

	_, err = w.Write(reply)
	return false, err
}

// replyWriter sends replies over the connection's link, bounded by its ctx.
type replyWriter struct {
	c *serverConn
}

func (w replyWriter) Write(data []byte) (int, error) {
	if w.c.srv.trace {
		w.c.log.Debug("Send", zap.ByteString("reply", data))
	}

	return w.c.link.Send(w.c.ctx, data)
}

// cleanup cancels the connection, closes its socket and releases its slot.
// Only the first call does anything.
func (c *serverConn) cleanup() error {
	c.cleanupOnce.Do(func() {
		c.cancel()

		if err := c.link.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.cleanupErr = err
		}

		total, removed := c.srv.removeConn(c)
		if removed {
			metrics.RecordConnectionClosed()
		}

		c.log.Info("Client removed", zap.Int("total", total))
	})

	return c.cleanupErr
}
