// Package handshake implements the textual session handshake: a strict,
// incremental parser for the hello/response messages, a renderer for the
// outbound counterpart, and a tolerant scanner that finds the hello inside
// terminal escape noise.
//
// A message on the wire is
//
//	OSC "ptybridge;" <version> ";" <protocol> ";" <uuid> ST
//
// where OSC and ST are the C1 controls U+009D and U+009C, or their 7-bit
// forms ESC ] and ESC \.
package handshake

import "github.com/google/uuid"

const (
	esc = 0x1B
	bel = 0x07

	// OSC introduces the message; ST terminates it.
	OSC = 0x9D
	ST  = 0x9C

	// MaxDigits bounds both decimal fields.
	MaxDigits = 4

	// UUIDLen is the length of the canonical textual UUID.
	UUIDLen = 36

	// MaxScratch bounds the OSC payload collected by the scratch scanner.
	MaxScratch = 4000
)

// Prefix is the magic handshake marker, as code points.
var Prefix = []rune("\u009dptybridge;")

// Protocol types advertised in a response.
const (
	ProtocolReject   = 0
	ProtocolTerminal = 1
	ProtocolRaw      = 2
)

// Role selects which message a Parser reads.
type Role int

const (
	// RoleClient reads a server hello.
	RoleClient Role = iota
	// RoleServer reads a client response.
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Fields are the values carried by one message. For a hello, Version is the
// server version and Protocol the protocol version; for a response they are
// the client version and the protocol type.
type Fields struct {
	Version  int
	Protocol int
	ID       uuid.UUID
}

func (r Role) versionError() Outcome {
	if r == RoleServer {
		return BadClientVersion
	}
	return BadServerVersion
}

func (r Role) protocolError() Outcome {
	if r == RoleServer {
		return BadProtocolType
	}
	return BadProtocolVersion
}

func (r Role) uuidError() Outcome {
	if r == RoleServer {
		return BadClientUUID
	}
	return BadServerUUID
}

// zeroProtocolAllowed is true for responses, where zero means reject.
func (r Role) zeroProtocolAllowed() bool { return r == RoleServer }
