package router

import "errors"

// Reasons a frame is dropped. These never reach the client and never end the
// session; they exist for logs and tests.
var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrNotARoomMember     = errors.New("not a member of the ticket room")
)
