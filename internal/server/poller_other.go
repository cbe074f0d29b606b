//go:build !linux

package server

import (
	"errors"
	"net"
)

var errUnsupported = errors.New("readiness multiplexing requires linux epoll")

func newPoller(int) (poller, error) {
	return nil, errUnsupported
}

func listenTCP(address string, _ int) (net.Listener, error) {
	return nil, &ListenError{Address: address, Err: errUnsupported}
}
