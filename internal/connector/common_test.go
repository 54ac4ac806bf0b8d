package connector

import (
	"io"

	"golang.org/x/sys/unix"

	"ptybridge/internal/domain"
)

// fakeConn is a scripted local peer. Each operation first fails with
// EAGAIN stall times; reads return at most one queued segment at a time.
type fakeConn struct {
	fd       int
	segments [][]byte
	closed   bool
	stall    int
	pending  int

	writeLimit int
	writeErr   error
	sendErr    error
	written    []byte
	sent       []int
	calls      int
}

var _ domain.Conn = &fakeConn{}

func newFakeConn(fd int, segments ...[]byte) *fakeConn {
	return &fakeConn{fd: fd, segments: segments, closed: true}
}

func (c *fakeConn) stalled() bool {
	c.calls++
	if c.pending < c.stall {
		c.pending++
		return true
	}
	c.pending = 0
	return false
}

func (c *fakeConn) FD() int { return c.fd }

func (c *fakeConn) Read(p []byte) (int, error) {
	if c.stalled() {
		return 0, unix.EAGAIN
	}
	if len(c.segments) == 0 {
		if c.closed {
			return 0, io.EOF
		}
		return 0, unix.EAGAIN
	}
	n := copy(p, c.segments[0])
	c.segments[0] = c.segments[0][n:]
	if len(c.segments[0]) == 0 {
		c.segments = c.segments[1:]
	}
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.stalled() {
		return 0, unix.EAGAIN
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	n := len(p)
	if c.writeLimit > 0 && n > c.writeLimit {
		n = c.writeLimit
	}
	c.written = append(c.written, p[:n]...)
	if n < len(p) {
		return n, unix.EAGAIN
	}
	return n, nil
}

func (c *fakeConn) SendDescriptor(fd int) error {
	if c.stalled() {
		return unix.EAGAIN
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, fd)
	return nil
}

func (c *fakeConn) Close() error { return nil }

// fakeRemote completes each remote stage after stall transient attempts.
type fakeRemote struct {
	fd      int
	stall   int
	pending int
	readErr error
}

func (r *fakeRemote) FD() int { return r.fd }

func (r *fakeRemote) attempt() (bool, error) {
	if r.pending < r.stall {
		r.pending++
		return false, nil
	}
	r.pending = 0
	return true, nil
}

func (r *fakeRemote) ReadHandshake() (bool, error) {
	if r.readErr != nil {
		return false, r.readErr
	}
	return r.attempt()
}

func (r *fakeRemote) WriteHandshake() (bool, error) { return r.attempt() }
