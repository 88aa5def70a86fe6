package protocol

import "errors"

// Envelope decoding errors. Frames that fail with any of these are dropped
// by the router without a response to the client.
var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrMissingPayload    = errors.New("envelope has no payload")
	ErrMissingField      = errors.New("payload missing required field")
)
