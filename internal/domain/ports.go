package domain

import "net/netip"

type EventType uint32

const (
	EventRead  EventType = 0x1 // EPOLLIN
	EventWrite EventType = 0x4 // EPOLLOUT
)

type EventHandler interface {
	HandleEvent(fd int, event EventType) error
}

type EventLoop interface {
	Register(fd int, events EventType) error
	Modify(fd int, events EventType) error
	Unregister(fd int) error
	Run(handler EventHandler) error
	Stop()
}

// Conn is a non-blocking byte stream over a descriptor. Read and Write
// return the platform's would-block error instead of blocking; Read
// returns io.EOF at end of stream.
type Conn interface {
	FD() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// SendDescriptor passes fd to the peer as one atomic message.
	SendDescriptor(fd int) error
	Close() error
}

// Resolver issues DNS queries over a pollable descriptor and reads the
// answers back when it becomes readable.
type Resolver interface {
	FD() int
	Query(host string, id uint16) error
	ReadAnswer() (id uint16, addr netip.Addr, err error)
	Close() error
}
