package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Tickets   *TicketsConfig   `json:"tickets"`
	Internal  *InternalConfig  `json:"internal"`
}

// HTTPConfig configures the listener shared by the websocket endpoint and
// the internal API.
type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// WebSocketConfig configures connection supervision.
type WebSocketConfig struct {
	// IdleTimeout closes a connection that produced no frame within the
	// interval, pings included.
	IdleTimeout time.Duration `json:"idle_timeout"`

	// PingInterval is the server-side keepalive probe cadence. Must be
	// shorter than IdleTimeout or healthy idle clients get cut.
	PingInterval time.Duration `json:"ping_interval"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `json:"write_timeout"`

	// SendQueueSize bounds the per-connection outbound queue.
	SendQueueSize int `json:"send_queue_size"`

	// SingleSession rejects a second live connection for the same identity.
	// Off by default: one user may hold several tabs or devices.
	SingleSession bool `json:"single_session"`
}

// AuthConfig configures the bearer-token resolver.
type AuthConfig struct {
	JWTSecret      string        `json:"jwt_secret"`
	JWTIssuer      string        `json:"jwt_issuer"`
	ResolveTimeout time.Duration `json:"resolve_timeout"`
}

// TicketsConfig points at the ticketing database. An empty path disables the
// room-join authorization hook; any authenticated client may then join any
// ticket room.
type TicketsConfig struct {
	DatabasePath string `json:"database_path"`
}

// InternalConfig guards the server-to-server notify endpoint.
type InternalConfig struct {
	NotifyToken string `json:"notify_token"`
}

// DefaultConfig returns production-shaped defaults. The secrets have no
// defaults and must come from the environment or a config file.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8090,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			IdleTimeout:   60 * time.Second,
			PingInterval:  25 * time.Second,
			WriteTimeout:  10 * time.Second,
			SendQueueSize: 64,
			SingleSession: false,
		},
		Auth: &AuthConfig{
			ResolveTimeout: 5 * time.Second,
		},
		Tickets:  &TicketsConfig{},
		Internal: &InternalConfig{},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("http configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("websocket configuration is required")
	}
	if c.WebSocket.IdleTimeout <= 0 {
		return fmt.Errorf("websocket idle timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.IdleTimeout {
		return fmt.Errorf("websocket ping interval must be shorter than the idle timeout")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket write timeout must be positive")
	}
	if c.WebSocket.SendQueueSize <= 0 {
		return fmt.Errorf("websocket send queue size must be positive")
	}

	if c.Auth == nil || c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt secret is required")
	}
	if c.Auth.ResolveTimeout <= 0 {
		return fmt.Errorf("auth resolve timeout must be positive")
	}

	if c.Internal == nil || c.Internal.NotifyToken == "" {
		return fmt.Errorf("internal notify token is required")
	}

	return nil
}

// LoadFromEnv starts from the defaults and applies TICKETROOM_* overrides.
// Unparseable values fall back silently; Validate catches what matters.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("TICKETROOM_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("TICKETROOM_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	envDuration("TICKETROOM_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	envDuration("TICKETROOM_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)

	envDuration("TICKETROOM_WS_IDLE_TIMEOUT", &cfg.WebSocket.IdleTimeout)
	envDuration("TICKETROOM_WS_PING_INTERVAL", &cfg.WebSocket.PingInterval)
	envDuration("TICKETROOM_WS_WRITE_TIMEOUT", &cfg.WebSocket.WriteTimeout)
	if size := os.Getenv("TICKETROOM_WS_SEND_QUEUE_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			cfg.WebSocket.SendQueueSize = n
		}
	}
	if single := os.Getenv("TICKETROOM_WS_SINGLE_SESSION"); single != "" {
		if b, err := strconv.ParseBool(single); err == nil {
			cfg.WebSocket.SingleSession = b
		}
	}

	if secret := os.Getenv("TICKETROOM_AUTH_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if issuer := os.Getenv("TICKETROOM_AUTH_JWT_ISSUER"); issuer != "" {
		cfg.Auth.JWTIssuer = issuer
	}
	envDuration("TICKETROOM_AUTH_RESOLVE_TIMEOUT", &cfg.Auth.ResolveTimeout)

	if path := os.Getenv("TICKETROOM_TICKETS_DATABASE_PATH"); path != "" {
		cfg.Tickets.DatabasePath = path
	}
	if token := os.Getenv("TICKETROOM_INTERNAL_NOTIFY_TOKEN"); token != "" {
		cfg.Internal.NotifyToken = token
	}

	return cfg
}

func envDuration(name string, target *time.Duration) {
	if value := os.Getenv(name); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*target = d
		}
	}
}

// configFile mirrors Config with string durations for JSON.
type configFile struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		IdleTimeout   string `json:"idle_timeout"`
		PingInterval  string `json:"ping_interval"`
		WriteTimeout  string `json:"write_timeout"`
		SendQueueSize int    `json:"send_queue_size"`
		SingleSession *bool  `json:"single_session"`
	} `json:"websocket"`
	Auth *struct {
		JWTSecret      string `json:"jwt_secret"`
		JWTIssuer      string `json:"jwt_issuer"`
		ResolveTimeout string `json:"resolve_timeout"`
	} `json:"auth"`
	Tickets *struct {
		DatabasePath string `json:"database_path"`
	} `json:"tickets"`
	Internal *struct {
		NotifyToken string `json:"notify_token"`
	} `json:"internal"`
}

// LoadFromFile reads a JSON configuration, layered over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			cfg.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			cfg.HTTP.Port = file.HTTP.Port
		}
		fileDuration(file.HTTP.ReadTimeout, &cfg.HTTP.ReadTimeout)
		fileDuration(file.HTTP.WriteTimeout, &cfg.HTTP.WriteTimeout)
	}

	if file.WebSocket != nil {
		fileDuration(file.WebSocket.IdleTimeout, &cfg.WebSocket.IdleTimeout)
		fileDuration(file.WebSocket.PingInterval, &cfg.WebSocket.PingInterval)
		fileDuration(file.WebSocket.WriteTimeout, &cfg.WebSocket.WriteTimeout)
		if file.WebSocket.SendQueueSize > 0 {
			cfg.WebSocket.SendQueueSize = file.WebSocket.SendQueueSize
		}
		if file.WebSocket.SingleSession != nil {
			cfg.WebSocket.SingleSession = *file.WebSocket.SingleSession
		}
	}

	if file.Auth != nil {
		if file.Auth.JWTSecret != "" {
			cfg.Auth.JWTSecret = file.Auth.JWTSecret
		}
		if file.Auth.JWTIssuer != "" {
			cfg.Auth.JWTIssuer = file.Auth.JWTIssuer
		}
		fileDuration(file.Auth.ResolveTimeout, &cfg.Auth.ResolveTimeout)
	}

	if file.Tickets != nil && file.Tickets.DatabasePath != "" {
		cfg.Tickets.DatabasePath = file.Tickets.DatabasePath
	}
	if file.Internal != nil && file.Internal.NotifyToken != "" {
		cfg.Internal.NotifyToken = file.Internal.NotifyToken
	}

	return cfg, nil
}

func fileDuration(value string, target *time.Duration) {
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*target = d
		}
	}
}

// Load resolves the effective configuration: file when given, otherwise
// environment over defaults.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromFile(path)
	}
	return LoadFromEnv(), nil
}

// SplitListenAddr parses a host:port flag value into config fields.
func SplitListenAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host, port, nil
}
