package client

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/sled/protocol"
	"github.com/luma/sled/transport"
)

const (
	DefaultCallTimeout = time.Second
)

type SessionOptions struct {
	// Secret sent in HELLO and BYE, defaults to transport.DefaultSecret
	Secret string

	// Timeout applied to every call made through the session
	Timeout time.Duration

	MaxInFlight int

	KeepAlive transport.KeepAlive

	Log *zap.Logger
}

// Session is an authenticated Channel to a SLED server.
type Session struct {
	ch      *Channel
	secret  string
	timeout time.Duration

	log *zap.Logger
}

// Dial connects to host:port and performs the HELLO handshake. If the server
// does not answer OK the connection is closed and ErrAuthFailed returned.
func Dial(ctx context.Context, host string, port int, options SessionOptions) (*Session, error) {
	secret := options.Secret
	if secret == "" {
		secret = transport.DefaultSecret
	}

	timeout := options.Timeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}

	keepAlive := options.KeepAlive
	if keepAlive == (transport.KeepAlive{}) {
		keepAlive = transport.DefaultKeepAlive
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	link := transport.NewTCPLinkWithKeepAlive(keepAlive)
	if err := link.Connect(ctx, host, port); err != nil {
		return nil, err
	}

	s := &Session{
		ch: NewChannel(link, protocol.CRLFCodec{}, ChannelOptions{
			MaxInFlight: options.MaxInFlight,
			Log:         log.Named("channel"),
		}),
		secret:  secret,
		timeout: timeout,
		log:     log,
	}

	resp, err := s.ch.Call(ctx, protocol.Hello(secret), timeout)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("handshake failed: %w", err), s.ch.Close())
	}

	if bytes.Equal(resp, protocol.RespErr) {
		return nil, multierr.Append(ErrAuthFailed, s.ch.Close())
	}

	if !bytes.Equal(resp, protocol.RespOk) {
		return nil, multierr.Append(fmt.Errorf("%w to HELLO: %q", ErrUnexpectedReply, resp), s.ch.Close())
	}

	log.Info("Connected", zap.String("remote", fmt.Sprintf("%s:%d", host, port)))

	return s, nil
}

// Call sends request using the session's timeout.
func (s *Session) Call(ctx context.Context, request []byte) ([]byte, error) {
	return s.ch.Call(ctx, request, s.timeout)
}

func (s *Session) CallTimeout(ctx context.Context, request []byte, timeout time.Duration) ([]byte, error) {
	return s.ch.Call(ctx, request, timeout)
}

func (s *Session) Connected() bool {
	return s.ch.Link().Connected()
}

func (s *Session) Channel() *Channel {
	return s.ch
}

// Close says BYE, waits for the server's BYE and closes the channel.
func (s *Session) Close(ctx context.Context) error {
	var err error

	resp, callErr := s.ch.Call(ctx, protocol.Bye(s.secret), s.timeout)
	switch {
	case callErr != nil:
		err = fmt.Errorf("BYE failed: %w", callErr)

	case !bytes.Equal(resp, protocol.RespBye):
		err = fmt.Errorf("%w to BYE: %q", ErrUnexpectedReply, resp)
	}

	return multierr.Append(err, s.ch.Close())
}
