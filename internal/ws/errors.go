package ws

import "errors"

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidPayload   = errors.New("payload not marshalable")
	ErrIdentityBound    = errors.New("identity already bound")
)

// Registry errors.
var (
	ErrNilConnection    = errors.New("connection cannot be nil")
	ErrDuplicateSession = errors.New("identity already has a live connection")
	ErrConnectionGone   = errors.New("connection gone")
)
