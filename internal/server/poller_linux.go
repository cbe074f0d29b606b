//go:build linux

package server

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// epoller is a level-triggered epoll set. Each registration carries a token
// (a slot index, listenerToken or wakeToken) in the event's Fd field.
type epoller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
}

func newPoller(capacity int) (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	p := &epoller{
		epfd:   epfd,
		wakefd: wakefd,
		// listener + wake + one per slot
		events: make([]unix.EpollEvent, capacity+2),
	}
	if err := p.Add(wakefd, wakeToken); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *epoller) Add(fd, token int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(token)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

func (p *epoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one registered fd is ready. Signal
// interruptions are retried. Hang-ups and errors count as readiness.
func (p *epoller) Wait(tokens []int) ([]int, error) {
	for {
		n, err := unix.EpollWait(p.epfd, p.events, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return tokens, err
		}
		for i := 0; i < n; i++ {
			tokens = append(tokens, int(p.events[i].Fd))
		}
		return tokens, nil
	}
}

func (p *epoller) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		// counter already non-zero, a wake-up is pending
		return nil
	}
	return err
}

func (p *epoller) Close() error {
	err := unix.Close(p.wakefd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}
	return err
}
