package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ticketroom/internal/api"
	"ticketroom/internal/auth"
	"ticketroom/internal/config"
	"ticketroom/internal/metrics"
	"ticketroom/internal/room"
	"ticketroom/internal/router"
	"ticketroom/internal/session"
	"ticketroom/internal/ticketstore"
	"ticketroom/internal/ws"
)

// Application wires the broadcast server together: resolver, ticket store,
// registry, directory, router, supervisor, HTTP. Construction order follows
// the dependency chain; nothing reaches for ambient global state, so tests
// can build as many isolated instances as they like.
type Application struct {
	cfg        *config.Config
	log        *slog.Logger
	registry   *ws.Registry
	directory  *room.Directory
	store      *ticketstore.Store
	httpServer *http.Server
}

// New builds an application from a validated configuration.
func New(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	resolver := auth.NewJWTResolver([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer)

	var store *ticketstore.Store
	var authorizer router.Authorizer
	if cfg.Tickets.DatabasePath != "" {
		s, err := ticketstore.Open(cfg.Tickets.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open ticket store: %w", err)
		}
		store = s
		authorizer = s
		log.Info("room join authorization enabled", "database", cfg.Tickets.DatabasePath)
	} else {
		log.Info("room join authorization disabled")
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promRegistry)

	registry := ws.NewRegistry(cfg.WebSocket.SingleSession, log.With("component", "registry"), m)
	directory := room.NewDirectory(registry, log.With("component", "directory"), m)
	rtr := router.NewRouter(registry, directory, authorizer, log.With("component", "router"))

	supervisor := session.NewSupervisor(resolver, registry, directory, rtr, session.Config{
		IdleTimeout:    cfg.WebSocket.IdleTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		ResolveTimeout: cfg.Auth.ResolveTimeout,
		Conn: ws.Options{
			SendQueueSize: cfg.WebSocket.SendQueueSize,
			WriteTimeout:  cfg.WebSocket.WriteTimeout,
		},
	}, log.With("component", "supervisor"), m)

	server := api.NewServer(supervisor, directory, cfg.Internal.NotifyToken, promRegistry, log.With("component", "api"))

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, fmt.Sprintf("%d", cfg.HTTP.Port)),
		Handler:      server,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		registry:   registry,
		directory:  directory,
		store:      store,
		httpServer: httpServer,
	}, nil
}

// Run serves until ctx is canceled, then shuts down gracefully: the listener
// stops, live connections are closed, supervisors unwind their own cleanup.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", "error", err)
	}

	a.registry.CloseAll()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("ticket store close", "error", err)
		}
	}

	return nil
}
