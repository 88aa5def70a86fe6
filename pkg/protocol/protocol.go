package protocol

import (
	"encoding/json"
	"time"
)

// Inbound message types. This set is closed: the router matches on these
// constants exhaustively and drops anything else.
const (
	TypeJoinTicket      = "join_ticket"
	TypeLeaveTicket     = "leave_ticket"
	TypeTypingIndicator = "typing_indicator"
	TypeMessageSeen     = "message_seen"
	TypePing            = "ping"
)

// Outbound message types.
const (
	TypeConnection          = "connection"
	TypeError               = "error"
	TypePong                = "pong"
	TypePeerJoined          = "peer_joined"
	TypePeerLeft            = "peer_left"
	TypeMessageStatusUpdate = "message_status_update"
	TypeNewMessage          = "new_message"
	TypeTicketStatusUpdate  = "ticket_status_update"
)

// Envelope is the wire unit exchanged in both directions: one JSON object
// per websocket text frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a raw frame into an Envelope. A frame without a type field
// is malformed.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformedEnvelope
	}
	if env.Type == "" {
		return nil, ErrMalformedEnvelope
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope payload into v. Payload validation
// is the caller's job; this only reports JSON-level failures.
func (e *Envelope) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return ErrMissingPayload
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return ErrMalformedEnvelope
	}
	return nil
}

// NewEnvelope builds an outbound envelope around payload. It fails only if
// payload is not JSON-marshalable, which for our own payload structs means
// a programming error.
func NewEnvelope(msgType string, payload interface{}) (*Envelope, error) {
	if payload == nil {
		return &Envelope{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: msgType, Payload: raw}, nil
}

// Critical reports whether frames of this type must survive outbound queue
// pressure. Typing indicators are best-effort by contract and may be shed
// when a connection's queue is full.
func Critical(msgType string) bool {
	return msgType != TypeTypingIndicator
}

// JoinTicketPayload is the client request to subscribe to a ticket room.
type JoinTicketPayload struct {
	TicketID string `json:"ticket_id"`
}

func (p *JoinTicketPayload) Validate() error {
	if p.TicketID == "" {
		return ErrMissingField
	}
	return nil
}

// LeaveTicketPayload is the client request to unsubscribe from a ticket room.
type LeaveTicketPayload struct {
	TicketID string `json:"ticket_id"`
}

func (p *LeaveTicketPayload) Validate() error {
	if p.TicketID == "" {
		return ErrMissingField
	}
	return nil
}

// TypingPayload carries a typing indicator. Inbound frames set TicketID and
// IsTyping; the server stamps UserID and DisplayName before fan-out.
type TypingPayload struct {
	TicketID    string `json:"ticket_id"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	IsTyping    bool   `json:"is_typing"`
}

func (p *TypingPayload) Validate() error {
	if p.TicketID == "" {
		return ErrMissingField
	}
	return nil
}

// MessageSeenPayload is the client report that it has read a message.
type MessageSeenPayload struct {
	TicketID  string `json:"ticket_id"`
	MessageID string `json:"message_id"`
}

func (p *MessageSeenPayload) Validate() error {
	if p.TicketID == "" || p.MessageID == "" {
		return ErrMissingField
	}
	return nil
}

// MessageStatusPayload is the fan-out form of a read receipt.
type MessageStatusPayload struct {
	TicketID  string `json:"ticket_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	UserID    string `json:"user_id"`
}

// StatusSeen is the only status this server emits; the persistent store owns
// the rest of the message status lifecycle.
const StatusSeen = "seen"

// PeerPayload announces a peer entering or leaving a ticket room.
type PeerPayload struct {
	TicketID    string `json:"ticket_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// ConnectionPayload is the welcome acknowledgment sent once after a
// successful handshake.
type ConnectionPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name,omitempty"`
	Message      string `json:"message"`
}

// ErrorPayload is sent on authentication failure before the socket closes.
// Rejected room operations are dropped without a response, so clients only
// ever see this during the handshake.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in ErrorPayload.
const (
	CodeMissingToken     = "missing_token"
	CodeInvalidToken     = "invalid_token"
	CodeDuplicateSession = "duplicate_session"
)

// PongPayload answers a ping with the server clock.
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}
