package connector

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"ptybridge/internal/handshake"
)

// Kind classifies a fatal connector error. Kind implements error so that
// errors.Is(err, LocalRejection) works on an [*Error].
type Kind int

const (
	RemoteReadFailed Kind = iota + 1
	RemoteConnectFailed
	RemoteHandshakeFailed
	RemoteLimitExceeded
	LocalReadFailed
	LocalConnectFailed
	LocalHandshakeFailed
	LocalTransferFailed
	LocalRejection
	LocalBadProtocol
	LocalBadResponse
	ReadIDFailed
	WriteFailed
)

// String maps a [Kind] to a string.
func (k Kind) String() string {
	switch k {
	case RemoteReadFailed:
		return "remote read failed"
	case RemoteConnectFailed:
		return "remote connect failed"
	case RemoteHandshakeFailed:
		return "remote handshake failed"
	case RemoteLimitExceeded:
		return "remote limit exceeded"
	case LocalReadFailed:
		return "local read failed"
	case LocalConnectFailed:
		return "local connect failed"
	case LocalHandshakeFailed:
		return "local handshake failed"
	case LocalTransferFailed:
		return "local transfer failed"
	case LocalRejection:
		return "local rejection"
	case LocalBadProtocol:
		return "local bad protocol"
	case LocalBadResponse:
		return "local bad response"
	case ReadIDFailed:
		return "read id failed"
	case WriteFailed:
		return "write failed"
	default:
		return "unknown connector error"
	}
}

func (k Kind) Error() string { return k.String() }

// Error is the single terminal error of a session.
type Error struct {
	Kind Kind

	// State is where the session failed.
	State State

	// Errno is set when a system call failed.
	Errno unix.Errno

	// Cause is any other underlying error.
	Cause error

	// Outcome is the parser result behind handshake and response failures.
	Outcome handshake.Outcome

	// Detail carries a kind-specific value, e.g. the peer's version for
	// LocalRejection.
	Detail    int
	HasDetail bool
}

// NewError returns an [*Error] of the given kind. When cause carries an
// errno only the errno is recorded.
func NewError(kind Kind, cause error) *Error {
	e := &Error{Kind: kind}
	var errno unix.Errno
	if errors.As(cause, &errno) {
		e.Errno = errno
	} else {
		e.Cause = cause
	}
	return e
}

// WithDetail records a detail value and returns e.
func (e *Error) WithDetail(v int) *Error {
	e.Detail = v
	e.HasDetail = true
	return e
}

// WithOutcome records the parser outcome and returns e.
func (e *Error) WithOutcome(o handshake.Outcome) *Error {
	e.Outcome = o
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "connector: %s in %s", e.Kind, e.State)
	if e.Outcome.Failed() {
		fmt.Fprintf(&b, ": %s", e.Outcome)
	}
	if e.Errno != 0 {
		fmt.Fprintf(&b, ": %s", e.Errno)
	} else if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.HasDetail {
		fmt.Fprintf(&b, " (detail %d)", e.Detail)
	}
	return b.String()
}

// Is matches a [Kind] target.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func (e *Error) Unwrap() error {
	if e.Errno != 0 {
		return e.Errno
	}
	return e.Cause
}

// Transient reports whether err is a would-block or interrupted condition
// that must be retried on the next readiness notification.
func Transient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
