package client

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luma/sled/internal/metrics"
	"github.com/luma/sled/protocol"
	"github.com/luma/sled/transport"
)

const (
	DefaultMaxInFlight = 8

	readChunkSize = 4096
)

type ChannelOptions struct {
	// MaxInFlight bounds how many calls may be outstanding at once. Callers
	// beyond it wait for a slot.
	MaxInFlight int

	// MaxFrameSize bounds how much may be buffered while waiting for a
	// response terminator.
	MaxFrameSize int

	Log *zap.Logger
}

// Channel pipelines calls over a single Link.
//
// Requests are written in the order they are queued and the protocol has no
// request IDs, so the n-th frame received answers the n-th request written.
// One send loop owns writes and one receive loop owns reads, the Link never
// sees concurrent writers or concurrent readers.
type Channel struct {
	link  transport.Link
	codec protocol.Codec

	maxFrame int

	// window holds one token per call that has not completed
	window chan struct{}

	mu      sync.Mutex
	closing bool
	queue   chan *outbound

	pending pendingQueue

	loopWaiter sync.WaitGroup
	closeOnce  sync.Once
	closed     chan struct{}
	done       chan struct{}
	cause      error
	closeErr   error

	log *zap.Logger
}

// NewChannel starts the send and receive loops over link, which must already
// be connected. The channel owns link from here on and closes it on Close.
func NewChannel(link transport.Link, codec protocol.Codec, options ChannelOptions) *Channel {
	maxInFlight := options.MaxInFlight
	if maxInFlight < 1 {
		maxInFlight = DefaultMaxInFlight
	}

	maxFrame := options.MaxFrameSize
	if maxFrame < 1 {
		maxFrame = protocol.DefaultMaxFrameSize
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	c := &Channel{
		link:     link,
		codec:    codec,
		maxFrame: maxFrame,
		window:   make(chan struct{}, maxInFlight),

		// Never blocks, the window keeps it from holding more than maxInFlight
		queue: make(chan *outbound, maxInFlight),

		closed: make(chan struct{}),
		done:   make(chan struct{}),
		log:    log,
	}

	c.loopWaiter.Add(2)

	go func() {
		defer c.loopWaiter.Done()
		c.sendLoop()
	}()

	go func() {
		defer c.loopWaiter.Done()
		c.receiveLoop()
	}()

	go c.failRemaining()

	return c
}

// Call sends request and waits for its response. request must not contain
// CR or LF, the codec adds the terminator.
//
// Call blocks while MaxInFlight calls are outstanding. Once the request is
// queued it waits up to timeout for the response, a timeout <= 0 waits until
// ctx is done or the channel closes.
//
// A call that times out, or whose ctx ends, stays in line. Its response is
// still consumed when it arrives, and only then is its slot freed.
func (c *Channel) Call(ctx context.Context, request []byte, timeout time.Duration) ([]byte, error) {
	start := time.Now()

	resp, err := c.call(ctx, request, timeout)
	metrics.RecordCall(outcome(err), time.Since(start))

	return resp, err
}

func (c *Channel) call(ctx context.Context, request []byte, timeout time.Duration) ([]byte, error) {
	if bytes.ContainsAny(request, "\r\n") {
		return nil, ErrInvalidRequest
	}

	select {
	case c.window <- struct{}{}:

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-c.closed:
		return nil, c.closedErr()
	}

	o := c.newOutbound(request)

	if !c.enqueue(o) {
		err := c.closedErr()

		// Never reached the send loop, drop its reference too
		o.releaseRef()
		o.resolve(nil, err)

		return nil, err
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()

		timer = t.C
	}

	select {
	case <-o.done:
		return o.resp, o.err

	case <-timer:
		return nil, ErrTimeout

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight is the number of calls holding a window slot.
func (c *Channel) InFlight() int {
	return len(c.window)
}

func (c *Channel) Link() transport.Link {
	return c.link
}

// Done is closed once both loops have exited and every call has completed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close stops both loops, closes the link and fails every outstanding call
// with ErrClosed. It is safe to call more than once.
func (c *Channel) Close() error {
	c.shutdown(nil)
	<-c.done

	return c.closeErr
}

func (c *Channel) enqueue(o *outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return false
	}

	c.queue <- o
	return true
}

func (c *Channel) sendLoop() {
	log := c.log.Named("sendLoop")

	for {
		select {
		case <-c.closed:
			return

		case o := <-c.queue:
			if !c.isRunning() {
				o.releaseRef()
				o.resolve(nil, c.closedErr())
				continue
			}

			// Register before writing, a fast response must find its request
			c.pending.push(o)

			_, err := c.link.Send(context.Background(), o.bytes())
			o.releaseRef()

			if err != nil {
				log.Warn("Failed to send request", zap.Error(err))

				o.resolve(nil, fmt.Errorf("%w: %w", ErrSendFailed, err))
				c.shutdown(err)

				return
			}
		}
	}
}

func (c *Channel) receiveLoop() {
	log := c.log.Named("receiveLoop")

	var (
		r     = c.link.Reader()
		chunk = make([]byte, readChunkSize)
		buf   = make([]byte, 0, readChunkSize)
	)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			off := 0
			for {
				frame, consumed, ok := c.codec.TryDecode(buf[off:])
				if !ok {
					break
				}

				off += consumed
				c.match(frame, log)
			}

			buf = append(buf[:0], buf[off:]...)

			if len(buf) > c.maxFrame {
				log.Warn("Closing channel", zap.Int("buffered", len(buf)), zap.Error(protocol.ErrFrameTooLarge))
				c.shutdown(protocol.ErrFrameTooLarge)
				return
			}
		}

		if err != nil {
			if c.isRunning() {
				log.Info("Link closed by remote", zap.Error(err))
			}

			c.shutdown(err)
			return
		}
	}
}

// match hands frame to the oldest pending request.
func (c *Channel) match(frame []byte, log *zap.Logger) {
	o := c.pending.pop()
	if o == nil {
		log.Warn("Dropping response with no pending request", zap.ByteString("frame", frame))
		return
	}

	// frame aliases the receive buffer
	resp := append([]byte(nil), frame...)

	if !o.resolve(resp, nil) {
		log.Debug("Dropping response for a request that already failed")
	}
}

// shutdown closes the channel once, remembering the first cause.
func (c *Channel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.cause = cause
		c.closing = true
		c.mu.Unlock()

		close(c.closed)

		c.closeErr = c.link.Close()
	})
}

// failRemaining waits for both loops and then fails whatever they left
// behind, so no call is left waiting on a channel that can never answer it.
func (c *Channel) failRemaining() {
	c.loopWaiter.Wait()

	err := c.closedErr()

	for _, o := range c.pending.drain() {
		o.resolve(nil, err)
	}

	for {
		select {
		case o := <-c.queue:
			o.releaseRef()
			o.resolve(nil, err)

		default:
			close(c.done)
			return
		}
	}
}

func (c *Channel) closedErr() error {
	c.mu.Lock()
	cause := c.cause
	c.mu.Unlock()

	if cause == nil {
		return ErrClosed
	}

	return fmt.Errorf("%w: %w", ErrClosed, cause)
}

func (c *Channel) releaseSlot() {
	<-c.window
}

// isRunning returns true if the channel has not started closing
func (c *Channel) isRunning() bool {
	select {
	case <-c.closed:
		return false

	default:
		return true
	}
}

// outbound is one request on its way through the channel.
//
// Its buffer has two owners: the send loop, until the write returns, and the
// completion, until the call resolves. Each gives up its reference exactly
// once and the buffer goes back to the pool when both have.
type outbound struct {
	ch *Channel

	buf  *[]byte
	refs int32

	once sync.Once
	done chan struct{}
	resp []byte
	err  error
}

func (c *Channel) newOutbound(request []byte) *outbound {
	buf := getBuffer()
	*buf = c.codec.AppendFrame(*buf, request)

	return &outbound{
		ch:   c,
		buf:  buf,
		refs: 2,
		done: make(chan struct{}),
	}
}

func (o *outbound) bytes() []byte {
	return *o.buf
}

func (o *outbound) releaseRef() {
	if atomic.AddInt32(&o.refs, -1) == 0 {
		putBuffer(o.buf)
	}
}

// resolve completes the call. Only the first resolution counts, it frees the
// window slot and drops the completion's buffer reference.
func (o *outbound) resolve(resp []byte, err error) bool {
	resolved := false

	o.once.Do(func() {
		o.resp = resp
		o.err = err
		close(o.done)

		o.releaseRef()
		o.ch.releaseSlot()

		resolved = true
	})

	return resolved
}

// pendingQueue is the FIFO of written requests waiting for a response. The
// send loop is the only producer and the receive loop the only consumer.
type pendingQueue struct {
	mu    sync.Mutex
	items []*outbound
	head  int
}

func (q *pendingQueue) push(o *outbound) {
	q.mu.Lock()
	q.items = append(q.items, o)
	q.mu.Unlock()
}

func (q *pendingQueue) pop() *outbound {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return nil
	}

	o := q.items[q.head]
	q.items[q.head] = nil
	q.head++

	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}

	return o
}

func (q *pendingQueue) drain() []*outbound {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := append([]*outbound(nil), q.items[q.head:]...)
	q.items = nil
	q.head = 0

	return out
}
