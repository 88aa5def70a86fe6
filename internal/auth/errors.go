package auth

import "errors"

// Resolution errors. Both are terminal for the connection attempt: the
// supervisor sends one error frame and closes the transport.
var (
	ErrTokenNotFound = errors.New("token unknown or revoked")
	ErrTokenExpired  = errors.New("token expired")
)
