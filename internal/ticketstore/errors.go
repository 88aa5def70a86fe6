package ticketstore

import "errors"

// Authorization outcomes. The router treats both as a dropped join, never as
// a session error.
var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrNotParticipant = errors.New("user is not a ticket participant")
)
