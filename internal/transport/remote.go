// Package transport provides the remote halves of a bridge: a TCP peer
// that speaks the handshake on a clean stream, and a spawned command whose
// terminal output may wrap the hello in escape noise.
package transport

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"ptybridge/internal/connector"
	"ptybridge/internal/domain"
	"ptybridge/internal/handshake"
	"ptybridge/internal/infrastructure/network"
)

// ErrTrailingData is reported when the remote peer sends more than its
// hello before reading the response. Those bytes would be lost when the
// descriptor is handed off.
var ErrTrailingData = errors.New("remote sent data past its hello")

// helloReader is implemented by handshake.Parser and handshake.ScratchScanner.
type helloReader interface {
	Feed(chunk []byte) handshake.Outcome
	Fields() handshake.Fields
	Residual() []byte
}

// Options stamp the response sent to the remote peer.
type Options struct {
	Version      int
	ProtocolType int
	Identity     uuid.UUID
}

// Remote implements connector.RemoteHandshaker over a non-blocking
// descriptor. Its descriptor is the one handed to the local peer.
type Remote struct {
	conn         domain.Conn
	reader       helloReader
	opts         Options
	log          *slog.Logger
	checkConnect bool
	buf          [1024]byte
	out          []byte
	hello        handshake.Fields
	residual     []byte
	release      func()
	abort        func()
}

var _ connector.RemoteHandshaker = &Remote{}

func newRemote(conn domain.Conn, reader helloReader, opts Options, log *slog.Logger) *Remote {
	return &Remote{conn: conn, reader: reader, opts: opts, log: log}
}

func (r *Remote) FD() int { return r.conn.FD() }

// Hello returns the remote peer's hello once ReadHandshake is done.
func (r *Remote) Hello() handshake.Fields { return r.hello }

// Residual returns bytes read past the remote hello. A non-empty residual
// fails the handshake.
func (r *Remote) Residual() []byte { return r.residual }

func (r *Remote) ReadHandshake() (bool, error) {
	if r.checkConnect {
		if err := network.ConnectError(r.conn.FD()); err != nil {
			return false, connector.NewError(connector.RemoteConnectFailed, err)
		}
		r.checkConnect = false
	}

	n, err := r.conn.Read(r.buf[:])
	if err != nil {
		if connector.Transient(err) {
			return false, nil
		}
		return false, connector.NewError(connector.RemoteReadFailed, err)
	}

	o := r.reader.Feed(r.buf[:n])
	switch {
	case o == handshake.Success:
		r.hello = r.reader.Fields()
		r.residual = append([]byte(nil), r.reader.Residual()...)
		if len(r.residual) > 0 {
			r.log.Warn("Remote sent data past its hello", "bytes", len(r.residual))
			return false, connector.NewError(connector.RemoteHandshakeFailed, ErrTrailingData)
		}
		out, err := handshake.Render(r.opts.Version, r.opts.ProtocolType, r.opts.Identity)
		if err != nil {
			return false, connector.NewError(connector.RemoteHandshakeFailed, err)
		}
		r.out = out
		r.log.Debug("Remote hello received",
			"version", r.hello.Version, "protocol", r.hello.Protocol, "peer", r.hello.ID)
		return true, nil
	case o == handshake.TooLong:
		return false, connector.NewError(connector.RemoteLimitExceeded, nil).WithOutcome(o)
	case o.Failed():
		if lt, ok := r.reader.(interface{ LeadingText() string }); ok && o == handshake.BadLeadingContent {
			r.log.Warn("Remote sent text before the handshake", "content", lt.LeadingText())
		}
		return false, connector.NewError(connector.RemoteHandshakeFailed, nil).WithOutcome(o)
	}
	return false, nil
}

func (r *Remote) WriteHandshake() (bool, error) {
	for len(r.out) > 0 {
		n, err := r.conn.Write(r.out)
		if n > 0 {
			r.out = r.out[n:]
		}
		if err != nil {
			if connector.Transient(err) {
				return false, nil
			}
			return false, connector.NewError(connector.WriteFailed, err)
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Close releases this process's copy of the descriptor. A handed-off
// descriptor stays open in the local peer.
func (r *Remote) Close() error {
	if r.release != nil {
		r.release()
	}
	return r.conn.Close()
}

// Abort closes the descriptor and stops whatever is behind it.
func (r *Remote) Abort() {
	if r.abort != nil {
		r.abort()
	}
	r.conn.Close()
}
