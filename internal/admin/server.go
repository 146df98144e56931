package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/KilimcininKorOglu/lload/internal/config"
	"github.com/KilimcininKorOglu/lload/internal/logging"
)

// ServerConfig holds admin server configuration.
type ServerConfig struct {
	Address         string
	JWTSecret       string
	Issuer          string
	TokenTTL        time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// ServerConfigFrom builds a server configuration from the admin section.
func ServerConfigFrom(cfg config.AdminConfig) *ServerConfig {
	sc := DefaultServerConfig()
	sc.Address = cfg.Address
	sc.JWTSecret = cfg.JWTSecret
	sc.Issuer = cfg.Issuer
	if cfg.TokenTTL > 0 {
		sc.TokenTTL = cfg.TokenTTL
	}
	return sc
}

// DefaultServerConfig returns default configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         "127.0.0.1:8389",
		TokenTTL:        time.Hour,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server is the admin API server.
type Server struct {
	config   *ServerConfig
	logger   logging.Logger
	auth     *Authenticator
	handlers *Handlers
	server   *http.Server
}

// NewServer creates an admin server for registry.
func NewServer(cfg *ServerConfig, registry Registry, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	auth := NewAuthenticator(cfg.JWTSecret, cfg.Issuer, cfg.TokenTTL)
	handlers := NewHandlers(registry)

	s := &Server{
		config:   cfg,
		logger:   logger,
		auth:     auth,
		handlers: handlers,
	}
	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      NewRouter(handlers, auth, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handlers returns the server's handlers for further configuration.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Authenticator returns the token authenticator.
func (s *Server) Authenticator() *Authenticator {
	return s.auth
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe serves the API until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("admin server started", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("admin server stopped")
	return nil
}
