//go:build !linux

package transport

import "net"

// setKeepAlive enables keep-alive. Only the idle time can be set portably,
// the platform picks its own interval.
func setKeepAlive(conn *net.TCPConn, keepAlive KeepAlive) error {
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}

	return conn.SetKeepAlivePeriod(keepAlive.Idle)
}
