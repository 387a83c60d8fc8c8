//go:build !windows

package netudp

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// noDeadline disables the read deadline (zero time.Time).
var noDeadline = time.Time{}

// enableBroadcast sets SO_BROADCAST on conn's file descriptor. Go's net
// package never sets this for plain UDP sockets, and sendto(2) to the
// limited broadcast address fails with EACCES on Linux without it.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
