package connector

import "ptybridge/internal/domain"

// State is a stage of connection establishment. States only move forward.
type State int

const (
	ReadingRemoteHandshake State = iota
	WritingRemoteHandshake
	ReadingLocalHandshake
	WritingLocalHandshake
	ReadingLocalAck1
	WritingDescriptor
	ReadingLocalAck2
	WritingHello
	ReadingLocalResponse
	WritingAttributes
	ReadingConnectionID
	Done
)

// String maps a [State] to a string.
func (s State) String() string {
	switch s {
	case ReadingRemoteHandshake:
		return "reading-remote-handshake"
	case WritingRemoteHandshake:
		return "writing-remote-handshake"
	case ReadingLocalHandshake:
		return "reading-local-handshake"
	case WritingLocalHandshake:
		return "writing-local-handshake"
	case ReadingLocalAck1:
		return "reading-local-ack1"
	case WritingDescriptor:
		return "writing-descriptor"
	case ReadingLocalAck2:
		return "reading-local-ack2"
	case WritingHello:
		return "writing-hello"
	case ReadingLocalResponse:
		return "reading-local-response"
	case WritingAttributes:
		return "writing-attributes"
	case ReadingConnectionID:
		return "reading-connection-id"
	case Done:
		return "done"
	default:
		return "invalid"
	}
}

func (s State) next() State {
	if s >= Done {
		return Done
	}
	return s + 1
}

// Remote reports whether the state talks to the remote peer.
func (s State) Remote() bool {
	return s == ReadingRemoteHandshake || s == WritingRemoteHandshake
}

// Event is the readiness the state waits for.
func (s State) Event() domain.EventType {
	switch s {
	case WritingRemoteHandshake, WritingLocalHandshake, WritingDescriptor, WritingHello, WritingAttributes:
		return domain.EventWrite
	case Done:
		return 0
	default:
		return domain.EventRead
	}
}
