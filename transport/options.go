package transport

import (
	"github.com/luma/sled/commands"
	"go.uber.org/zap"
)

const (
	DefaultMaxConnections = 6
	DefaultSecret         = "SLED-LOCAL-DEV"
)

type ServerOptions struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port. See Server.Addr
	Port int

	// Reuseport controls setting SO_REUSEPORT
	Reuseport bool

	// MaxConnections bounds how many clients may be connected at once.
	// Connections beyond it are closed without a reply.
	MaxConnections int

	// Secret is expected in HELLO and BYE frames
	Secret string

	// Commands answers authenticated clients, defaults to commands.Default()
	Commands *commands.Table

	// MaxFrameSize bounds how much a client may send without a terminator
	MaxFrameSize int

	// Trace will log every frame received and every reply sent at debug
	// level. This is only useful in local debugging
	Trace bool

	Log *zap.Logger
}
