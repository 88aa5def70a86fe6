package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ticketroom/internal/auth"
	"ticketroom/internal/metrics"
	"ticketroom/internal/room"
	"ticketroom/internal/router"
	"ticketroom/internal/ws"
	"ticketroom/pkg/protocol"
)

// Config carries the per-connection timing knobs.
type Config struct {
	// IdleTimeout closes a connection that has produced no frame, ping
	// included, within the interval. Independent backstop for clients that
	// stop responding without closing.
	IdleTimeout time.Duration

	// PingInterval is how often the server probes the client with a
	// websocket ping control frame.
	PingInterval time.Duration

	// ResolveTimeout bounds one call to the identity resolver.
	ResolveTimeout time.Duration

	// Conn are the transport options for accepted connections.
	Conn ws.Options
}

// DefaultConfig returns the supervisor defaults used outside tests.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    60 * time.Second,
		PingInterval:   25 * time.Second,
		ResolveTimeout: 5 * time.Second,
		Conn:           ws.DefaultOptions(),
	}
}

// Supervisor owns the lifecycle of every websocket session: it accepts the
// transport, authenticates it, hands decoded frames to the router while the
// session is active, and runs the unregister/evict cleanup exactly once on
// every termination path.
type Supervisor struct {
	resolver  auth.Resolver
	registry  *ws.Registry
	directory *room.Directory
	router    *router.Router
	cfg       Config
	upgrader  websocket.Upgrader
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewSupervisor wires a supervisor to its collaborators.
func NewSupervisor(resolver auth.Resolver, registry *ws.Registry, directory *room.Directory, rtr *router.Router, cfg Config, log *slog.Logger, m *metrics.Metrics) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultConfig().ResolveTimeout
	}
	return &Supervisor{
		resolver:  resolver,
		registry:  registry,
		directory: directory,
		router:    rtr,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		log:     log,
		metrics: m,
	}
}

// HandleWebSocket upgrades the request and runs the session to completion.
// The bearer credential rides in the token query parameter of the initial
// URI.
func (s *Supervisor) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := ws.NewConnection(raw, s.cfg.Conn, s.metrics)
	s.supervise(conn, token)
}

// supervise drives one connection through Authenticating, Active and Closed.
func (s *Supervisor) supervise(conn *ws.Connection, token string) {
	// One cleanup for every termination path. Before registration the
	// unregister is a no-op and the room set is empty, so running it
	// unconditionally is safe.
	defer func() {
		rooms := s.registry.Unregister(conn.ID())
		identity, _ := conn.Identity()
		s.directory.EvictFromAll(conn.ID(), identity, rooms)
		conn.Close()
	}()

	identity, err := s.authenticate(conn, token)
	if err != nil {
		s.metrics.AuthFailed()
		return
	}

	welcome, err := protocol.NewEnvelope(protocol.TypeConnection, &protocol.ConnectionPayload{
		ConnectionID: conn.ID(),
		UserID:       identity.UserID,
		DisplayName:  identity.DisplayName,
		Message:      "connected",
	})
	if err != nil {
		return
	}
	if err := conn.Enqueue(welcome); err != nil {
		return
	}

	s.log.Info("session active", "conn_id", conn.ID(), "user_id", identity.UserID)
	s.readLoop(conn, router.Peer{ConnID: conn.ID(), Identity: identity})
	s.log.Info("session closed", "conn_id", conn.ID(), "user_id", identity.UserID)
}

// authenticate resolves the credential and registers the connection. On any
// failure the client receives one error frame and the transport closes; the
// connection never becomes visible to the registry or any room.
func (s *Supervisor) authenticate(conn *ws.Connection, token string) (auth.Identity, error) {
	if token == "" {
		s.reject(conn, protocol.CodeMissingToken, "credential required")
		return auth.Identity{}, ErrAuthenticationFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ResolveTimeout)
	defer cancel()

	identity, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		s.log.Debug("credential rejected", "conn_id", conn.ID(), "error", err)
		s.reject(conn, protocol.CodeInvalidToken, "credential rejected")
		return auth.Identity{}, ErrAuthenticationFailed
	}

	if err := s.registry.Register(conn, identity); err != nil {
		if errors.Is(err, ws.ErrDuplicateSession) {
			s.reject(conn, protocol.CodeDuplicateSession, "identity already connected")
		}
		return auth.Identity{}, ErrAuthenticationFailed
	}

	return identity, nil
}

// reject sends the single error frame an unauthenticated client is owed,
// followed by a close frame. WriteImmediate is safe here: the connection is
// not registered, so nothing else writes.
func (s *Supervisor) reject(conn *ws.Connection, code, message string) {
	env, err := protocol.NewEnvelope(protocol.TypeError, &protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err == nil {
		_ = conn.WriteImmediate(env)
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.Transport().WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), deadline)
}

// readLoop pumps inbound frames to the router until the transport closes or
// idles out. Any received frame, pong included, refreshes the idle deadline.
func (s *Supervisor) readLoop(conn *ws.Connection, peer router.Peer) {
	raw := conn.Transport()

	if err := raw.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
		return
	}
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	go s.pingLoop(conn)

	for {
		messageType, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug("read failed", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if err := raw.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.router.Dispatch(context.Background(), peer, data)
	}
}

// pingLoop probes the client at the configured interval. Control frame
// writes are safe alongside the connection's writer goroutine.
func (s *Supervisor) pingLoop(conn *ws.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.Transport().WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
