package room

import (
	"log/slog"
	"sync"

	"ticketroom/internal/auth"
	"ticketroom/internal/metrics"
	"ticketroom/pkg/protocol"
)

// Peers is the slice of the connection registry the directory needs:
// non-blocking delivery plus the membership back-references used for
// disconnect cleanup.
type Peers interface {
	Send(connID string, env *protocol.Envelope) error
	TrackJoin(connID, ticketID string)
	TrackLeave(connID, ticketID string)
}

// Directory maps ticket identifiers to the set of connections subscribed to
// them. Rooms are created lazily on first join and deleted when their member
// set empties; they are a pure in-memory projection of who currently cares
// about a ticket.
//
// One mutex serializes every membership mutation and every broadcast.
// Delivery is enqueue-only and never blocks, so holding the lock across a
// fan-out is cheap and gives each room a global event order.
type Directory struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{} // ticket ID -> member connection IDs

	peers   Peers
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewDirectory creates an empty directory delivering through peers.
func NewDirectory(peers Peers, log *slog.Logger, m *metrics.Metrics) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{
		rooms:   make(map[string]map[string]struct{}),
		peers:   peers,
		log:     log,
		metrics: m,
	}
}

// Join adds the connection to the ticket's room, creating the room if this
// is its first member. Idempotent: a duplicate join changes nothing and
// emits nothing. Other current members receive peer_joined; the joiner never
// does.
func (d *Directory) Join(ticketID, connID string, who auth.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[ticketID]
	if !ok {
		members = make(map[string]struct{})
		d.rooms[ticketID] = members
		d.metrics.RoomCreated()
	}
	if _, already := members[connID]; already {
		return
	}
	members[connID] = struct{}{}
	d.peers.TrackJoin(connID, ticketID)

	env, err := protocol.NewEnvelope(protocol.TypePeerJoined, &protocol.PeerPayload{
		TicketID:    ticketID,
		UserID:      who.UserID,
		DisplayName: who.DisplayName,
	})
	if err != nil {
		return
	}
	d.deliverLocked(ticketID, env, connID)
}

// Leave removes the connection from the ticket's room and deletes the room
// if it empties. Leaving a room the connection is not in is a no-op, not an
// error. Remaining members receive peer_left.
func (d *Directory) Leave(ticketID, connID string, who auth.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leaveLocked(ticketID, connID, who)
}

func (d *Directory) leaveLocked(ticketID, connID string, who auth.Identity) {
	members, ok := d.rooms[ticketID]
	if !ok {
		return
	}
	if _, member := members[connID]; !member {
		return
	}
	delete(members, connID)
	d.peers.TrackLeave(connID, ticketID)

	if len(members) == 0 {
		delete(d.rooms, ticketID)
		d.metrics.RoomDeleted()
		return
	}

	env, err := protocol.NewEnvelope(protocol.TypePeerLeft, &protocol.PeerPayload{
		TicketID:    ticketID,
		UserID:      who.UserID,
		DisplayName: who.DisplayName,
	})
	if err != nil {
		return
	}
	d.deliverLocked(ticketID, env, "")
}

// IsMember reports whether the connection currently belongs to the room.
func (d *Directory) IsMember(ticketID, connID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rooms[ticketID][connID]
	return ok
}

// Broadcast delivers env to every current member of the room except
// excludeConnID (pass "" to exclude nobody). A dead member never blocks or
// aborts delivery to the rest; the return value is how many members the
// envelope was actually enqueued for.
func (d *Directory) Broadcast(ticketID string, env *protocol.Envelope, excludeConnID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deliverLocked(ticketID, env, excludeConnID)
}

// deliverLocked fans out to a snapshot of the member set. Callers hold d.mu,
// which is what gives one room a single global delivery order.
func (d *Directory) deliverLocked(ticketID string, env *protocol.Envelope, excludeConnID string) int {
	members := d.rooms[ticketID]
	if len(members) == 0 {
		return 0
	}

	snapshot := make([]string, 0, len(members))
	for connID := range members {
		if connID == excludeConnID {
			continue
		}
		snapshot = append(snapshot, connID)
	}

	delivered := 0
	for _, connID := range snapshot {
		if err := d.peers.Send(connID, env); err != nil {
			// Peer already gone; its supervisor cleans up membership.
			continue
		}
		delivered++
	}
	d.metrics.Broadcast(delivered)
	if delivered < len(snapshot) {
		d.log.Debug("partial fan-out",
			"ticket_id", ticketID,
			"delivered", delivered,
			"members", len(snapshot))
	}
	return delivered
}

// EvictFromAll removes the connection from every room in roomIDs, emitting
// peer_left as usual. Safe with a stale or empty list: rooms the connection
// already left are skipped silently.
func (d *Directory) EvictFromAll(connID string, who auth.Identity, roomIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ticketID := range roomIDs {
		d.leaveLocked(ticketID, connID, who)
	}
}

// RoomCount returns the number of rooms with at least one member.
func (d *Directory) RoomCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// Members returns a snapshot of the room's member connection IDs.
func (d *Directory) Members(ticketID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	members := make([]string, 0, len(d.rooms[ticketID]))
	for connID := range d.rooms[ticketID] {
		members = append(members, connID)
	}
	return members
}
