package router

import (
	"context"
	"log/slog"
	"time"

	"ticketroom/internal/auth"
	"ticketroom/internal/room"
	"ticketroom/internal/ws"
	"ticketroom/pkg/protocol"
)

// Peer is an authenticated connection as the router sees it. It is only
// constructed by the session supervisor after the handshake succeeds, so a
// handler can rely on Identity being present.
type Peer struct {
	ConnID   string
	Identity auth.Identity
}

// Authorizer is the optional room-join policy hook. A nil Authorizer admits
// every authenticated peer to every ticket room; the base fan-out contract
// does not require enforcement.
type Authorizer interface {
	Authorize(ctx context.Context, ticketID, userID string) error
}

// Router decodes inbound envelopes and dispatches them to the room
// directory. The inbound type set is closed; a frame that is unknown,
// malformed, or references a room the peer has not joined is logged and
// dropped. Nothing a client sends after the handshake can end its session.
type Router struct {
	registry   *ws.Registry
	directory  *room.Directory
	authorizer Authorizer
	log        *slog.Logger
	now        func() time.Time
}

// NewRouter creates a router delivering through registry and directory.
// authorizer may be nil.
func NewRouter(registry *ws.Registry, directory *room.Directory, authorizer Authorizer, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		registry:   registry,
		directory:  directory,
		authorizer: authorizer,
		log:        log,
		now:        time.Now,
	}
}

// Dispatch handles one inbound frame from an authenticated peer.
func (r *Router) Dispatch(ctx context.Context, peer Peer, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		r.drop(peer, "", err)
		return
	}

	switch env.Type {
	case protocol.TypeJoinTicket:
		r.handleJoin(ctx, peer, env)
	case protocol.TypeLeaveTicket:
		r.handleLeave(peer, env)
	case protocol.TypeTypingIndicator:
		r.handleTyping(peer, env)
	case protocol.TypeMessageSeen:
		r.handleSeen(peer, env)
	case protocol.TypePing:
		r.handlePing(peer)
	default:
		r.drop(peer, env.Type, ErrUnknownMessageType)
	}
}

func (r *Router) handleJoin(ctx context.Context, peer Peer, env *protocol.Envelope) {
	var p protocol.JoinTicketPayload
	if err := env.DecodePayload(&p); err != nil {
		r.drop(peer, env.Type, err)
		return
	}
	if err := p.Validate(); err != nil {
		r.drop(peer, env.Type, err)
		return
	}

	if r.authorizer != nil {
		if err := r.authorizer.Authorize(ctx, p.TicketID, peer.Identity.UserID); err != nil {
			r.drop(peer, env.Type, err)
			return
		}
	}

	r.directory.Join(p.TicketID, peer.ConnID, peer.Identity)
}

func (r *Router) handleLeave(peer Peer, env *protocol.Envelope) {
	var p protocol.LeaveTicketPayload
	if err := env.DecodePayload(&p); err != nil {
		r.drop(peer, env.Type, err)
		return
	}
	if err := p.Validate(); err != nil {
		r.drop(peer, env.Type, err)
		return
	}

	r.directory.Leave(p.TicketID, peer.ConnID, peer.Identity)
}

func (r *Router) handleTyping(peer Peer, env *protocol.Envelope) {
	var p protocol.TypingPayload
	if err := env.DecodePayload(&p); err != nil {
		r.drop(peer, env.Type, err)
		return
	}
	if err := p.Validate(); err != nil {
		r.drop(peer, env.Type, err)
		return
	}
	if !r.directory.IsMember(p.TicketID, peer.ConnID) {
		r.drop(peer, env.Type, ErrNotARoomMember)
		return
	}

	// The server stamps the sender; anything the client put there is
	// discarded.
	out, err := protocol.NewEnvelope(protocol.TypeTypingIndicator, &protocol.TypingPayload{
		TicketID:    p.TicketID,
		UserID:      peer.Identity.UserID,
		DisplayName: peer.Identity.DisplayName,
		IsTyping:    p.IsTyping,
	})
	if err != nil {
		return
	}
	r.directory.Broadcast(p.TicketID, out, peer.ConnID)
}

func (r *Router) handleSeen(peer Peer, env *protocol.Envelope) {
	var p protocol.MessageSeenPayload
	if err := env.DecodePayload(&p); err != nil {
		r.drop(peer, env.Type, err)
		return
	}
	if err := p.Validate(); err != nil {
		r.drop(peer, env.Type, err)
		return
	}
	if !r.directory.IsMember(p.TicketID, peer.ConnID) {
		r.drop(peer, env.Type, ErrNotARoomMember)
		return
	}

	out, err := protocol.NewEnvelope(protocol.TypeMessageStatusUpdate, &protocol.MessageStatusPayload{
		TicketID:  p.TicketID,
		MessageID: p.MessageID,
		Status:    protocol.StatusSeen,
		UserID:    peer.Identity.UserID,
	})
	if err != nil {
		return
	}
	r.directory.Broadcast(p.TicketID, out, peer.ConnID)
}

func (r *Router) handlePing(peer Peer) {
	out, err := protocol.NewEnvelope(protocol.TypePong, &protocol.PongPayload{Timestamp: r.now().UTC()})
	if err != nil {
		return
	}
	// Direct reply to the prober, not routed through any room.
	_ = r.registry.Send(peer.ConnID, out)
}

// drop records a rejected frame. The client gets no response: replying to
// bad frames would leak validation details and invite probing.
func (r *Router) drop(peer Peer, msgType string, reason error) {
	r.log.Debug("dropped frame",
		"conn_id", peer.ConnID,
		"user_id", peer.Identity.UserID,
		"type", msgType,
		"reason", reason)
}
