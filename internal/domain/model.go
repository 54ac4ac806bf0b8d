package domain

import "github.com/google/uuid"

// RemoteSpec describes how to reach the remote peer. Exactly one of
// Command or Host is set.
type RemoteSpec struct {
	Host    string
	Port    int
	Command []string
}

func (r RemoteSpec) IsCommand() bool { return len(r.Command) > 0 }

// BridgeRequest is one connection-establishment attempt.
type BridgeRequest struct {
	Remote       RemoteSpec
	LocalSocket  string
	ProtocolType int
	Version      int
	Identity     uuid.UUID
	Hello        []byte
	Attributes   []byte
}

// ConnectionID is the opaque identifier assigned by the local peer.
type ConnectionID [16]byte

func (c ConnectionID) String() string {
	return uuid.UUID(c).String()
}

// BridgeResult is delivered once per BridgeRequest.
type BridgeResult struct {
	ConnectionID ConnectionID
	Err          error
}
