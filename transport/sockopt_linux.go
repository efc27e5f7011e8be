//go:build linux

package transport

import (
	"net"
	"syscall"
)

// setKeepAlive enables keep-alive and sets the idle time and the interval between checks
// directly on the socket.
//
// https://man7.org/linux/man-pages/man7/tcp.7.html
func setKeepAlive(conn *net.TCPConn, keepAlive KeepAlive) error {
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	idle := seconds(keepAlive.Idle)
	interval := seconds(keepAlive.Interval)

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_KEEPIDLE, idle)
		if sockErr != nil {
			return
		}

		sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_KEEPINTVL, interval)
	})
	if err != nil {
		return err
	}

	return sockErr
}
