package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ticketroom/internal/auth"
	"ticketroom/internal/room"
	"ticketroom/internal/router"
	"ticketroom/internal/ws"
	"ticketroom/pkg/protocol"
)

// staticResolver resolves tokens from a fixed table, standing in for the
// external authentication service.
type staticResolver map[string]auth.Identity

func (r staticResolver) Resolve(_ context.Context, token string) (auth.Identity, error) {
	if identity, ok := r[token]; ok {
		return identity, nil
	}
	return auth.Identity{}, auth.ErrTokenNotFound
}

type fixture struct {
	registry  *ws.Registry
	directory *room.Directory
	server    *httptest.Server
}

func newFixture(t *testing.T, resolver auth.Resolver, singleSession bool) *fixture {
	t.Helper()

	registry := ws.NewRegistry(singleSession, nil, nil)
	directory := room.NewDirectory(registry, nil, nil)
	rtr := router.NewRouter(registry, directory, nil, nil)
	supervisor := NewSupervisor(resolver, registry, directory, rtr, Config{
		IdleTimeout:  5 * time.Second,
		PingInterval: 2 * time.Second,
	}, nil, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", supervisor.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{registry: registry, directory: directory, server: srv}
}

func defaultResolver() staticResolver {
	return staticResolver{
		"tok-alice": {UserID: "alice", DisplayName: "Alice"},
		"tok-bob":   {UserID: "bob", DisplayName: "Bob"},
	}
}

// dial connects a raw websocket client with the given token (empty for none).
func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	client, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// connect dials and consumes the welcome frame.
func (f *fixture) connect(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	client := f.dial(t, token)
	welcome := readFrame(t, client, 2*time.Second)
	if welcome.Type != protocol.TypeConnection {
		t.Fatalf("Expected connection welcome, got %q", welcome.Type)
	}
	return client
}

func readFrame(t *testing.T, client *websocket.Conn, timeout time.Duration) *protocol.Envelope {
	t.Helper()
	if err := client.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("Bad frame %s: %v", data, err)
	}
	return &env
}

func send(t *testing.T, client *websocket.Conn, frame string) {
	t.Helper()
	if err := client.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
}

func expectSilence(t *testing.T, client *websocket.Conn, wait time.Duration) {
	t.Helper()
	if err := client.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("SetReadDeadline failed: %v", err)
	}
	if _, data, err := client.ReadMessage(); err == nil {
		t.Fatalf("Expected no frame, got %s", data)
	}
}

// waitFor polls until cond holds or the deadline passes. Supervisor cleanup
// runs asynchronously after a transport close, so tests converge on state
// instead of assuming immediacy.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSupervisor_WelcomeOnValidToken(t *testing.T) {
	f := newFixture(t, defaultResolver(), false)
	client := f.dial(t, "tok-alice")

	welcome := readFrame(t, client, 2*time.Second)
	if welcome.Type != protocol.TypeConnection {
		t.Fatalf("Expected connection frame, got %q", welcome.Type)
	}
	var p protocol.ConnectionPayload
	if err := welcome.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if p.UserID != "alice" || p.ConnectionID == "" {
		t.Errorf("Welcome payload wrong: %+v", p)
	}
	if f.registry.Len() != 1 {
		t.Errorf("Expected 1 registered connection, got %d", f.registry.Len())
	}
}

func TestSupervisor_MissingToken(t *testing.T) {
	f := newFixture(t, defaultResolver(), false)
	client := f.dial(t, "")

	errFrame := readFrame(t, client, 2*time.Second)
	if errFrame.Type != protocol.TypeError {
		t.Fatalf("Expected error frame, got %q", errFrame.Type)
	}
	var p protocol.ErrorPayload
	if err := errFrame.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if p.Code != protocol.CodeMissingToken {
		t.Errorf("Expected missing_token, got %q", p.Code)
	}

	// The socket closes after the single error frame.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("Expected the transport to close after the error frame")
	}
	if f.registry.Len() != 0 {
		t.Error("Failed handshake must not register a connection")
	}
}

func TestSupervisor_InvalidTokenNeverReachesRooms(t *testing.T) {
	f := newFixture(t, defaultResolver(), false)
	client := f.dial(t, "tok-expired")

	errFrame := readFrame(t, client, 2*time.Second)
	if errFrame.Type != protocol.TypeError {
		t.Fatalf("Expected error frame, got %q", errFrame.Type)
	}
	var p protocol.ErrorPayload
	_ = errFrame.DecodePayload(&p)
	if p.Code != protocol.CodeInvalidToken {
		t.Errorf("Expected invalid_token, got %q", p.Code)
	}

	// A join attempt on the dying socket must never create membership.
	_ = client.WriteMessage(websocket.TextMessage, []byte(`{"type":"join_ticket","payload":{"ticket_id":"T1"}}`))

	waitFor(t, 2*time.Second, func() bool { return f.registry.Len() == 0 }, "connection lingered in registry")
	if f.directory.RoomCount() != 0 {
		t.Error("Unauthenticated connection reached the room directory")
	}
}

func TestSupervisor_TypingScenario(t *testing.T) {
	f := newFixture(t, defaultResolver(), false)
	alice := f.connect(t, "tok-alice")
	bob := f.connect(t, "tok-bob")

	send(t, alice, `{"type":"join_ticket","payload":{"ticket_id":"T1"}}`)
	waitFor(t, 2*time.Second, func() bool { return len(f.directory.Members("T1")) == 1 }, "alice never joined")
	send(t, bob, `{"type":"join_ticket","payload":{"ticket_id":"T1"}}`)

	// Alice sees Bob arrive.
	joined := readFrame(t, alice, 2*time.Second)
	if joined.Type != protocol.TypePeerJoined {
		t.Fatalf("Expected peer_joined, got %q", joined.Type)
	}

	send(t, alice, `{"type":"typing_indicator","payload":{"ticket_id":"T1","is_typing":true}}`)

	got := readFrame(t, bob, 2*time.Second)
	if got.Type != protocol.TypeTypingIndicator {
		t.Fatalf("Expected typing_indicator, got %q", got.Type)
	}
	var typing protocol.TypingPayload
	if err := got.DecodePayload(&typing); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if typing.UserID != "alice" || !typing.IsTyping {
		t.Errorf("Typing payload wrong: %+v", typing)
	}

	// Alice receives nothing.
	expectSilence(t, alice, 300*time.Millisecond)
}

func TestSupervisor_DisconnectEvictsAndNotifies(t *testing.T) {
	f := newFixture(t, defaultResolver(), false)
	alice := f.connect(t, "tok-alice")
	bob := f.connect(t, "tok-bob")

	send(t, alice, `{"type":"join_ticket","payload":{"ticket_id":"T1"}}`)
	send(t, alice, `{"type":"join_ticket","payload":{"ticket_id":"T2"}}`)
	waitFor(t, 2*time.Second, func() bool {
		return len(f.directory.Members("T1")) == 1 && len(f.directory.Members("T2")) == 1
	}, "alice never joined her rooms")

	send(t, bob, `{"type":"join_ticket","payload":{"ticket_id":"T1"}}`)
	joined := readFrame(t, alice, 2*time.Second)
	if joined.Type != protocol.TypePeerJoined {
		t.Fatalf("Expected peer_joined, got %q", joined.Type)
	}

	alice.Close()

	// Bob sees her leave T1.
	left := readFrame(t, bob, 2*time.Second)
	if left.Type != protocol.TypePeerLeft {
		t.Fatalf("Expected peer_left, got %q", left.Type)
	}
	var p protocol.PeerPayload
	if err := left.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if p.TicketID != "T1" || p.UserID != "alice" {
		t.Errorf("peer_left payload wrong: %+v", p)
	}

	// Both rooms are rid of her; T2 is gone entirely.
	waitFor(t, 2*time.Second, func() bool { return f.registry.Len() == 1 }, "alice lingered in registry")
	if len(f.directory.Members("T1")) != 1 {
		t.Errorf("T1 should hold only bob, got %v", f.directory.Members("T1"))
	}
	if f.directory.IsMember("T2", "") || len(f.directory.Members("T2")) != 0 {
		t.Error("T2 should be empty after alice disconnected")
	}

	// A later broadcast reaches only Bob.
	env, _ := protocol.NewEnvelope(protocol.TypeNewMessage, nil)
	if delivered := f.directory.Broadcast("T1", env, ""); delivered != 1 {
		t.Errorf("Expected 1 delivery after disconnect, got %d", delivered)
	}
	if got := readFrame(t, bob, 2*time.Second); got.Type != protocol.TypeNewMessage {
		t.Errorf("Bob missed the broadcast, got %q", got.Type)
	}
}

func TestSupervisor_DuplicateJoinSingleMembership(t *testing.T) {
	f := newFixture(t, defaultResolver(), false)
	alice := f.connect(t, "tok-alice")

	send(t, alice, `{"type":"join_ticket","payload":{"ticket_id":"T1"}}`)
	send(t, alice, `{"type":"join_ticket","payload":{"ticket_id":"T1"}}`)
	send(t, alice, `{"type":"ping"}`)
	if got := readFrame(t, alice, 2*time.Second); got.Type != protocol.TypePong {
		t.Fatalf("Expected pong, got %q", got.Type)
	}

	if n := len(f.directory.Members("T1")); n != 1 {
		t.Errorf("Expected exactly 1 member, got %d", n)
	}
}

func TestSupervisor_SingleSessionPolicy(t *testing.T) {
	f := newFixture(t, defaultResolver(), true)
	f.connect(t, "tok-alice")

	second := f.dial(t, "tok-alice")
	errFrame := readFrame(t, second, 2*time.Second)
	if errFrame.Type != protocol.TypeError {
		t.Fatalf("Expected error frame for duplicate session, got %q", errFrame.Type)
	}
	var p protocol.ErrorPayload
	_ = errFrame.DecodePayload(&p)
	if p.Code != protocol.CodeDuplicateSession {
		t.Errorf("Expected duplicate_session, got %q", p.Code)
	}
}

func TestSupervisor_MultipleTabsAllowedByDefault(t *testing.T) {
	f := newFixture(t, defaultResolver(), false)
	f.connect(t, "tok-alice")
	f.connect(t, "tok-alice")

	if f.registry.Len() != 2 {
		t.Errorf("Default policy should allow two tabs, got %d connections", f.registry.Len())
	}
}

func TestSupervisor_IdleTimeoutClosesConnection(t *testing.T) {
	registry := ws.NewRegistry(false, nil, nil)
	directory := room.NewDirectory(registry, nil, nil)
	rtr := router.NewRouter(registry, directory, nil, nil)
	// Idle window short, and pings disabled in effect: the interval is
	// longer than the timeout, and this client would not answer anyway.
	supervisor := NewSupervisor(defaultResolver(), registry, directory, rtr, Config{
		IdleTimeout:  300 * time.Millisecond,
		PingInterval: 10 * time.Second,
	}, nil, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", supervisor.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token=tok-alice", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	// Swallow pings silently by never replying: default handler replies, so
	// override it.
	client.SetPingHandler(func(string) error { return nil })

	welcome := readFrame(t, client, 2*time.Second)
	if welcome.Type != protocol.TypeConnection {
		t.Fatalf("Expected welcome, got %q", welcome.Type)
	}

	waitFor(t, 3*time.Second, func() bool { return registry.Len() == 0 },
		"idle connection never evicted")
}
