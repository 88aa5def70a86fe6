package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ticketroom/internal/auth"
	"ticketroom/internal/metrics"
	"ticketroom/pkg/protocol"
)

// Options control per-connection transport behavior.
type Options struct {
	// SendQueueSize bounds the outbound queue. When the queue is full,
	// non-critical frames are shed instead of blocking the broadcaster.
	SendQueueSize int

	// WriteTimeout is the deadline for a single frame write.
	WriteTimeout time.Duration
}

// DefaultOptions returns the transport defaults used outside tests.
func DefaultOptions() Options {
	return Options{
		SendQueueSize: 64,
		WriteTimeout:  10 * time.Second,
	}
}

type frame struct {
	data     []byte
	critical bool
}

// Connection wraps one websocket transport session. All writes funnel through
// a single writer goroutine draining a bounded queue, so any goroutine may
// enqueue concurrently without racing on the socket.
//
// The identity is bound exactly once, after authentication succeeds and
// before the connection is visible to the registry. The rooms set is a
// back-reference for disconnect cleanup only; the room directory owns
// membership.
type Connection struct {
	id      string
	conn    *websocket.Conn
	sendCh  chan frame
	opts    Options
	metrics *metrics.Metrics

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.RWMutex
	identity *auth.Identity
	rooms    map[string]struct{}
}

// NewConnection wraps an accepted websocket transport and starts its writer
// goroutine.
func NewConnection(conn *websocket.Conn, opts Options, m *metrics.Metrics) *Connection {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = DefaultOptions().SendQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		sendCh:  make(chan frame, opts.SendQueueSize),
		opts:    opts,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[string]struct{}),
	}

	go c.writeLoop()

	return c
}

// ID returns the opaque connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// writeLoop is the single writer for the underlying socket. A failed write
// means the peer is gone; the loop closes the connection so the read side
// unwinds through the normal cleanup path.
func (c *Connection) writeLoop() {
	for {
		select {
		case f := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Enqueue queues an envelope for delivery. It never blocks: if the queue is
// full, a non-critical envelope is shed outright, and a critical one evicts
// the oldest queued frame to make room. Returns ErrConnectionClosed once the
// connection has been closed.
func (c *Connection) Enqueue(env *protocol.Envelope) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(env)
	if err != nil {
		return ErrInvalidPayload
	}
	f := frame{data: data, critical: protocol.Critical(env.Type)}

	select {
	case c.sendCh <- f:
		return nil
	default:
	}

	// Queue full. Best-effort frames are shed; critical frames displace the
	// oldest queued frame.
	if !f.critical {
		c.metrics.FrameDropped()
		return nil
	}
	select {
	case <-c.sendCh:
		c.metrics.FrameDropped()
	default:
	}
	select {
	case c.sendCh <- f:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.metrics.FrameDropped()
		return nil
	}
}

// Close tears down the transport. Idempotent and safe to call from any
// goroutine; peers blocked on Enqueue are released by the context cancel.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection has been torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// BindIdentity attaches the authenticated principal. Allowed exactly once.
func (c *Connection) BindIdentity(identity auth.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return ErrIdentityBound
	}
	c.identity = &identity
	return nil
}

// Identity returns the bound principal. The second return is false for a
// connection that never authenticated.
func (c *Connection) Identity() (auth.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return auth.Identity{}, false
	}
	return *c.identity, true
}

// TrackJoin records room membership for disconnect cleanup.
func (c *Connection) TrackJoin(ticketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[ticketID] = struct{}{}
}

// TrackLeave drops the membership back-reference.
func (c *Connection) TrackLeave(ticketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, ticketID)
}

// Rooms returns the rooms this connection is tracked as belonging to.
func (c *Connection) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// WriteImmediate writes an envelope on the socket directly, bypassing the
// queue. Only valid before the connection is registered: at that point the
// writer goroutine is idle and nothing else can enqueue, so the socket has a
// single writer. The supervisor uses this for handshake error frames.
func (c *Connection) WriteImmediate(env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return ErrInvalidPayload
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return ErrConnectionClosed
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return ErrConnectionClosed
	}
	return nil
}

// Transport exposes the underlying socket for read-side control: deadlines,
// pong handlers and the read loop itself. Only the session supervisor uses
// this.
func (c *Connection) Transport() *websocket.Conn {
	return c.conn
}
