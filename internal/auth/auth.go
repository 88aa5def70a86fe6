package auth

import "context"

// Identity is the authenticated principal bound to a connection. The server
// holds a read-only copy for the lifetime of the connection; the display name
// is used only in outbound presence and typing payloads, never for
// authorization decisions.
type Identity struct {
	UserID      string
	DisplayName string
}

// Resolver turns a bearer credential into an Identity. Token issuance is
// owned by the external authentication service; this interface is how the
// broadcast server consumes it.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}
