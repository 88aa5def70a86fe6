package ws

import (
	"log/slog"
	"sync"

	"ticketroom/internal/auth"
	"ticketroom/internal/metrics"
	"ticketroom/pkg/protocol"
)

// Registry is the single source of truth for which connections exist and who
// they belong to. All access goes through its methods; nothing else touches
// the maps.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection            // connection ID -> connection
	byUser map[string]map[string]*Connection // user ID -> connection ID -> connection

	singleSession bool
	log           *slog.Logger
	metrics       *metrics.Metrics
}

// NewRegistry creates an empty registry. When singleSession is true the same
// identity may hold only one live connection at a time; the default
// deployment allows several (multiple tabs, multiple devices).
func NewRegistry(singleSession bool, log *slog.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		conns:         make(map[string]*Connection),
		byUser:        make(map[string]map[string]*Connection),
		singleSession: singleSession,
		log:           log,
		metrics:       m,
	}
}

// Register binds identity to a newly accepted connection and makes it
// visible to lookups. Fails with ErrDuplicateSession only under the
// single-session policy.
func (r *Registry) Register(conn *Connection, identity auth.Identity) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.singleSession && len(r.byUser[identity.UserID]) > 0 {
		return ErrDuplicateSession
	}

	if err := conn.BindIdentity(identity); err != nil {
		return err
	}

	r.conns[conn.ID()] = conn
	if r.byUser[identity.UserID] == nil {
		r.byUser[identity.UserID] = make(map[string]*Connection)
	}
	r.byUser[identity.UserID][conn.ID()] = conn

	r.metrics.ConnOpened()
	return nil
}

// Unregister removes the connection and returns the rooms it was tracked as
// belonging to, so the caller can evict it from each. Idempotent: an unknown
// connection ID yields an empty room set.
func (r *Registry) Unregister(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)

	if identity, bound := conn.Identity(); bound {
		if set := r.byUser[identity.UserID]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.byUser, identity.UserID)
			}
		}
	}

	r.metrics.ConnClosed()
	return conn.Rooms()
}

// Lookup returns the live connection for an identifier.
func (r *Registry) Lookup(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// UserConnections returns the live connections for one identity.
func (r *Registry) UserConnections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// Send enqueues an envelope on one connection without blocking. A failure
// means the peer is already gone: the connection is closed so its supervisor
// unwinds through the normal cleanup path, and ErrConnectionGone is returned
// for the caller to count, never to escalate.
func (r *Registry) Send(connID string, env *protocol.Envelope) error {
	conn, ok := r.Lookup(connID)
	if !ok {
		return ErrConnectionGone
	}
	if err := conn.Enqueue(env); err != nil {
		r.log.Debug("send to closed connection", "conn_id", connID)
		conn.Close()
		return ErrConnectionGone
	}
	return nil
}

// TrackJoin records the room back-reference on the connection. No-op for a
// connection that has already gone away.
func (r *Registry) TrackJoin(connID, ticketID string) {
	if conn, ok := r.Lookup(connID); ok {
		conn.TrackJoin(ticketID)
	}
}

// TrackLeave drops the room back-reference on the connection.
func (r *Registry) TrackLeave(connID, ticketID string) {
	if conn, ok := r.Lookup(connID); ok {
		conn.TrackLeave(ticketID)
	}
}

// CloseAll closes every live connection. Each supervisor unwinds through its
// own cleanup path, so the maps drain as the read loops exit.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
