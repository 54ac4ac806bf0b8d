// Package connector drives connection establishment: the remote handshake
// through a transport-specific [RemoteHandshaker], then the local handshake,
// descriptor handoff, hello, response, attributes and connection id over a
// local control channel.
//
// A [Session] never blocks and owns no goroutine. The caller polls the
// descriptor named by [Session.Interest] and calls [Session.Step] on each
// readiness notification.
package connector

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ptybridge/internal/domain"
	"ptybridge/internal/handshake"
)

// ErrInvalidParams indicates a [Params] value that cannot start a session.
var ErrInvalidParams = errors.New("connector: invalid params")

// RemoteHandshaker performs the transport-specific half of the session.
// Both methods make at most one non-blocking attempt and report done once
// their stage is complete. Transient conditions return (false, nil).
// Errors should be [*Error] values with a remote kind.
type RemoteHandshaker interface {
	FD() int
	ReadHandshake() (bool, error)
	WriteHandshake() (bool, error)
}

// Params configure a [Session].
type Params struct {
	Remote RemoteHandshaker
	Local  domain.Conn

	// Descriptor is handed to the local peer in WritingDescriptor.
	Descriptor int

	// ProtocolType is requested in the local response.
	ProtocolType int

	// Version and Identity stamp the local response.
	Version  int
	Identity uuid.UUID

	// Hello and Attributes are sent verbatim.
	Hello      []byte
	Attributes []byte
}

// Progress is the result of one [Session.Step].
type Progress int

const (
	// Pending means the stage is waiting for more I/O.
	Pending Progress = iota
	// Advanced means the session moved to a new state.
	Advanced
	// Finished means the session reached Done or failed.
	Finished
)

// Session is one connection-establishment attempt.
//
// The zero value is invalid; use [NewSession].
type Session struct {
	params   Params
	state    State
	hello    *handshake.Parser
	response *handshake.Parser
	rendered []byte
	out      []byte
	in       []byte
	readBuf  [512]byte
	connID   domain.ConnectionID
	idFill   int

	localHello    handshake.Fields
	localResponse handshake.Fields

	err *Error
}

// NewSession validates p and creates a session in ReadingRemoteHandshake.
func NewSession(p Params) (*Session, error) {
	if p.Remote == nil || p.Local == nil {
		return nil, fmt.Errorf("%w: remote and local are required", ErrInvalidParams)
	}
	if p.ProtocolType != handshake.ProtocolTerminal && p.ProtocolType != handshake.ProtocolRaw {
		return nil, fmt.Errorf("%w: protocol type %d", ErrInvalidParams, p.ProtocolType)
	}
	rendered, err := handshake.Render(p.Version, p.ProtocolType, p.Identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return &Session{
		params:   p,
		state:    ReadingRemoteHandshake,
		hello:    handshake.NewParser(handshake.RoleClient),
		response: handshake.NewParser(handshake.RoleServer),
		rendered: rendered,
	}, nil
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Err returns the terminal error, if any.
func (s *Session) Err() error {
	if s.err == nil {
		return nil
	}
	return s.err
}

// ConnectionID is valid once the session is Done.
func (s *Session) ConnectionID() domain.ConnectionID { return s.connID }

// LocalHello returns the local peer's hello once it has been read.
func (s *Session) LocalHello() handshake.Fields { return s.localHello }

// LocalResponse returns the local peer's response once it has been read.
func (s *Session) LocalResponse() handshake.Fields { return s.localResponse }

// Buffered reports inbound local bytes already read but not yet consumed.
// The caller must Step again without waiting for readiness while this is
// nonzero and the session waits for reads.
func (s *Session) Buffered() int { return len(s.in) }

// Interest returns the descriptor and readiness the session waits for. It
// returns -1 once the session is Done or failed.
func (s *Session) Interest() (int, domain.EventType) {
	if s.err != nil || s.state == Done {
		return -1, 0
	}
	if s.state.Remote() {
		return s.params.Remote.FD(), s.state.Event()
	}
	return s.params.Local.FD(), s.state.Event()
}

// Step runs one non-blocking attempt of the current stage.
func (s *Session) Step() (Progress, error) {
	if s.err != nil {
		return Finished, s.err
	}
	if s.state == Done {
		return Finished, nil
	}

	var (
		done bool
		err  error
	)
	switch s.state {
	case ReadingRemoteHandshake:
		done, err = s.params.Remote.ReadHandshake()
		if err != nil {
			err = s.asError(err, RemoteReadFailed)
		}
	case WritingRemoteHandshake:
		done, err = s.params.Remote.WriteHandshake()
		if err != nil {
			err = s.asError(err, WriteFailed)
		}
	case ReadingLocalHandshake:
		done, err = s.readMessage(s.hello, LocalHandshakeFailed)
		if done {
			s.localHello = s.hello.Fields()
		}
	case ReadingLocalAck1, ReadingLocalAck2:
		done, err = s.readAck()
	case WritingDescriptor:
		done, err = s.writeDescriptor()
	case WritingLocalHandshake, WritingHello, WritingAttributes:
		done, err = s.flush()
	case ReadingLocalResponse:
		done, err = s.readMessage(s.response, LocalBadResponse)
		if done {
			err = s.checkResponse(s.response.Fields())
			done = err == nil
		}
	case ReadingConnectionID:
		done, err = s.readConnectionID()
	}

	if err != nil {
		s.fail(err)
		return Finished, s.err
	}
	if !done {
		return Pending, nil
	}
	s.advance()
	if s.state == Done {
		return Finished, nil
	}
	return Advanced, nil
}

func (s *Session) advance() {
	s.state = s.state.next()
	switch s.state {
	case WritingLocalHandshake:
		s.out = s.rendered
	case WritingHello:
		s.out = s.params.Hello
	case WritingAttributes:
		s.out = s.params.Attributes
	}
}

func (s *Session) fail(err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = NewError(RemoteReadFailed, err)
	}
	e.State = s.state
	s.err = e
}

func (s *Session) asError(err error, fallback Kind) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(fallback, err)
}

// read serves buffered bytes before touching the descriptor.
func (s *Session) read(p []byte) (int, error) {
	if len(s.in) > 0 {
		n := copy(p, s.in)
		s.in = s.in[n:]
		return n, nil
	}
	return s.params.Local.Read(p)
}

// keep stores bytes that followed a parsed message ahead of whatever was
// still buffered.
func (s *Session) keep(residual []byte) {
	if len(residual) == 0 {
		return
	}
	in := make([]byte, 0, len(residual)+len(s.in))
	in = append(in, residual...)
	s.in = append(in, s.in...)
}

func (s *Session) readMessage(p *handshake.Parser, kind Kind) (bool, error) {
	n, err := s.read(s.readBuf[:])
	if err != nil {
		if Transient(err) {
			return false, nil
		}
		return false, NewError(LocalReadFailed, err)
	}
	switch o := p.Feed(s.readBuf[:n]); {
	case o == handshake.Success:
		s.keep(p.Residual())
		return true, nil
	case o.Failed():
		return false, NewError(kind, nil).WithOutcome(o)
	}
	return false, nil
}

func (s *Session) checkResponse(f handshake.Fields) error {
	switch f.Protocol {
	case handshake.ProtocolTerminal, handshake.ProtocolRaw:
		s.localResponse = f
		return nil
	case handshake.ProtocolReject:
		return NewError(LocalRejection, nil).WithDetail(f.Version)
	default:
		return NewError(LocalBadProtocol, nil).WithDetail(f.Protocol)
	}
}

// readAck consumes exactly one sentinel byte, which must be zero.
func (s *Session) readAck() (bool, error) {
	var b [1]byte
	n, err := s.read(b[:])
	if err != nil {
		if Transient(err) {
			return false, nil
		}
		return false, NewError(LocalTransferFailed, err)
	}
	if n == 0 {
		return false, nil
	}
	if b[0] != 0 {
		return false, NewError(LocalTransferFailed, nil).WithDetail(int(b[0]))
	}
	return true, nil
}

func (s *Session) writeDescriptor() (bool, error) {
	err := s.params.Local.SendDescriptor(s.params.Descriptor)
	switch {
	case err == nil:
		return true, nil
	case Transient(err):
		return false, nil
	default:
		return false, NewError(LocalTransferFailed, err)
	}
}

// flush writes as much of the pending buffer as the descriptor accepts.
// The unsent remainder is kept for the next writable notification.
func (s *Session) flush() (bool, error) {
	for len(s.out) > 0 {
		n, err := s.params.Local.Write(s.out)
		if n > 0 {
			s.out = s.out[n:]
		}
		if err != nil {
			if Transient(err) {
				return false, nil
			}
			return false, NewError(WriteFailed, err)
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

func (s *Session) readConnectionID() (bool, error) {
	n, err := s.read(s.connID[s.idFill:])
	if err != nil {
		if Transient(err) {
			return false, nil
		}
		return false, NewError(ReadIDFailed, err)
	}
	s.idFill += n
	return s.idFill == len(s.connID), nil
}
