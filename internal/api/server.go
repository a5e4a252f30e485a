package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fernwood-systems/knxfleet/internal/broadcast"
	"github.com/fernwood-systems/knxfleet/internal/fleet"
	"github.com/fernwood-systems/knxfleet/internal/infrastructure/config"
	"github.com/fernwood-systems/knxfleet/internal/infrastructure/logging"
	"github.com/fernwood-systems/knxfleet/internal/resolver"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Manager     *fleet.Manager
	Broadcaster *broadcast.Broadcaster
	Resolvers   *resolver.Registry
	Version     string
}

// Server is the HTTP API server for the fleet.
//
// It manages the HTTP listener, routes, middleware, and WebSocket
// connections. Create with New, start with Start, stop with Close.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	manager     *fleet.Manager
	broadcaster *broadcast.Broadcaster
	resolvers   *resolver.Registry
	version     string

	server *http.Server
	cancel context.CancelFunc

	// tickets holds pending single-use WebSocket tickets keyed by jti.
	tickets   map[string]time.Time
	ticketsMu sync.Mutex
}

// New creates an API server with the given dependencies.
// The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("fleet manager is required")
	}
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if deps.Resolvers == nil {
		return nil, fmt.Errorf("resolver registry is required")
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		manager:     deps.Manager,
		broadcaster: deps.Broadcaster,
		resolvers:   deps.Resolvers,
		version:     deps.Version,
		tickets:     make(map[string]time.Time),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router, starts the periodic ticket cleanup, and launches
// the HTTP listener in a background goroutine. Stop with Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()

	s.logger.Info("api server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("api server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
