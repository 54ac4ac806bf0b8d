package epoll

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"ptybridge/internal/domain"
)

// LinuxEventLoop dispatches readiness to a domain.EventHandler. It is
// level-triggered: a session that leaves data unread is notified again.
type LinuxEventLoop struct {
	epollFD int
	wakeFD  int
	log     *slog.Logger
	stopped atomic.Bool

	mu     sync.Mutex // guards wakeFD against close
	closed bool
}

func New(log *slog.Logger) (*LinuxEventLoop, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	evt := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wfd)}
	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, wfd, evt); err != nil {
		unix.Close(wfd)
		unix.Close(fd)
		return nil, err
	}
	return &LinuxEventLoop{epollFD: fd, wakeFD: wfd, log: log}, nil
}

func (l *LinuxEventLoop) Register(fd int, events domain.EventType) error {
	evt := &unix.EpollEvent{
		Events: uint32(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_ADD, fd, evt)
}

func (l *LinuxEventLoop) Modify(fd int, events domain.EventType) error {
	evt := &unix.EpollEvent{
		Events: uint32(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_MOD, fd, evt)
}

func (l *LinuxEventLoop) Unregister(fd int) error {
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
}

// Run blocks dispatching events until Stop is called.
func (l *LinuxEventLoop) Run(handler domain.EventHandler) error {
	defer l.close()

	events := make([]unix.EpollEvent, 128)
	for !l.stopped.Load() {
		n, err := unix.EpollWait(l.epollFD, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.wakeFD {
				continue
			}
			evMask := events[i].Events

			var domainEv domain.EventType
			if evMask&unix.EPOLLIN != 0 {
				domainEv |= domain.EventRead
			}
			if evMask&unix.EPOLLOUT != 0 {
				domainEv |= domain.EventWrite
			}
			// Errors and hangups surface through the next read or write.
			if evMask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				domainEv |= domain.EventRead | domain.EventWrite
			}

			if err := handler.HandleEvent(fd, domainEv); err != nil {
				l.log.Error("Error handling fd", "fd", fd, "error", err)
			}
		}
	}
	return nil
}

// Stop makes Run return. It is safe to call from any goroutine.
// Once Run has returned, Stop does nothing.
func (l *LinuxEventLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped.Swap(true) || l.closed {
		return
	}
	var one = [8]byte{1}
	unix.Write(l.wakeFD, one[:])
}

func (l *LinuxEventLoop) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped.Store(true)
	l.closed = true
	unix.Close(l.wakeFD)
	unix.Close(l.epollFD)
}
