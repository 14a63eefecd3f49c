// Package server implements the linechat server: the connection acceptor,
// the per-session login state machine, and the broadcast registry.
package server

import (
	"context"
	"net"

	"github.com/mkurth/linechat/pkg/datastore"
)

// Config holds server configuration.
type Config struct {
	ListenAddr       string // TCP bind address (e.g. ":12345")
	DBPath           string // SQLite database path
	MetricsAddr      string // HTTP bind address for /metrics endpoint (empty = disabled)
	MaxLoginAttempts int    // failed LOGIN frames allowed before the connection is closed
	HistoryLimit     int    // most recent history entries replayed at login (0 = all)
	UsersFile        string // YAML file seeding the credential directory on startup

	// CLI-only actions (run and exit)
	ExportUsers bool // export all users as YAML and exit
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataProviderFactory
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":12345",
		MetricsAddr:      ":12346",
		DBPath:           "linechat.db",
		MaxLoginAttempts: 5,
	}
}

// Server is the main linechat server.
type Server struct {
	cfg      Config
	sessions *SessionManager
	registry *Registry
	metrics  *Metrics
	store    datastore.DataProviderFactory
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		sessions: NewSessionManager(),
		registry: NewRegistry(),
		metrics:  NewMetrics(),
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Registry returns the broadcast registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
