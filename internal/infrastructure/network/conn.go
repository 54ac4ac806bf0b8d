package network

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"

	"ptybridge/internal/domain"
)

// ErrNoDescriptor is returned by ReceiveDescriptor when a message carried
// no SCM_RIGHTS payload.
var ErrNoDescriptor = errors.New("message carried no descriptor")

// FDConn is a domain.Conn over a raw non-blocking descriptor.
type FDConn struct {
	fd int
}

var _ domain.Conn = &FDConn{}

func NewFDConn(fd int) *FDConn {
	return &FDConn{fd: fd}
}

func (c *FDConn) FD() int { return c.fd }

func (c *FDConn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (c *FDConn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// SendDescriptor sends one zero byte carrying fd as SCM_RIGHTS.
func (c *FDConn) SendDescriptor(fd int) error {
	rights := unix.UnixRights(fd)
	return unix.Sendmsg(c.fd, []byte{0}, rights, nil, 0)
}

func (c *FDConn) Close() error {
	return unix.Close(c.fd)
}

// ReceiveDescriptor reads one message sent by SendDescriptor from fd and
// returns the passed descriptor.
func ReceiveDescriptor(fd int) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		return -1, err
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, err
	}
	for _, msg := range msgs {
		fds, err := unix.ParseUnixRights(&msg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			for _, extra := range fds[1:] {
				unix.Close(extra)
			}
			return fds[0], nil
		}
	}
	return -1, ErrNoDescriptor
}
