//go:build linux

package server

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenTCP binds and listens in two explicit steps so that bind and backlog
// failures surface as distinct errors. The accept backlog is the table
// capacity.
func listenTCP(address string, backlog int) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, &BindError{Address: address, Err: err}
	}

	var (
		family = unix.AF_INET
		sa     unix.Sockaddr
	)
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa4 := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		family = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa6.Addr[:], addr.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, &ListenError{Address: address, Err: fmt.Errorf("socket: %w", err)}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, &ListenError{Address: address, Err: fmt.Errorf("setsockopt: %w", err)}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, &BindError{Address: address, Err: err}
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, &ListenError{Address: address, Err: err}
	}

	f := os.NewFile(uintptr(fd), "listener:"+address)
	// FileListener dups the descriptor, so the raw one is closed here
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, &ListenError{Address: address, Err: err}
	}
	return ln, nil
}
