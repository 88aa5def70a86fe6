package session

import "errors"

// ErrAuthenticationFailed marks a connection that never reached the Active
// state. Terminal: the client has already received its one error frame.
var ErrAuthenticationFailed = errors.New("authentication failed")
