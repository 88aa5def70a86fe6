package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticketroom/internal/room"
	"ticketroom/internal/session"
	"ticketroom/pkg/protocol"
)

// Server exposes the HTTP surface: the websocket endpoint, the internal
// notify trigger the records application calls after persisting a message or
// a status change, and the health/metrics endpoints.
type Server struct {
	router      chi.Router
	supervisor  *session.Supervisor
	directory   *room.Directory
	notifyToken string
	log         *slog.Logger
}

// NewServer builds the HTTP handler. gatherer may be nil to disable the
// metrics endpoint.
func NewServer(supervisor *session.Supervisor, directory *room.Directory, notifyToken string, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		supervisor:  supervisor,
		directory:   directory,
		notifyToken: notifyToken,
		log:         log,
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", supervisor.HandleWebSocket)
	r.Post("/internal/tickets/{ticketID}/events", s.handleNotify)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.router = r

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNotify is the notify-only trigger: the records application has
// already persisted the message or status change and asks this process to
// fan it out to whoever currently has the ticket open. Nothing is stored or
// replayed here.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	ticketID := chi.URLParam(r, "ticketID")
	if ticketID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing ticket id"})
		return
	}

	var env protocol.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed envelope"})
		return
	}

	switch env.Type {
	case protocol.TypeNewMessage, protocol.TypeTicketStatusUpdate:
	default:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unsupported event type"})
		return
	}

	delivered := s.directory.Broadcast(ticketID, &env, "")
	s.log.Debug("notify fan-out", "ticket_id", ticketID, "type", env.Type, "delivered", delivered)
	writeJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}

func (s *Server) authorized(r *http.Request) bool {
	token := r.Header.Get("X-Internal-Token")
	if token == "" || s.notifyToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.notifyToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
