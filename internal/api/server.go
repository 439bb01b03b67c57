package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/history"
	"github.com/nerrad567/tankwatch/internal/infrastructure/config"
	"github.com/nerrad567/tankwatch/internal/infrastructure/logging"
	"github.com/nerrad567/tankwatch/internal/remoteaccess"
	"github.com/nerrad567/tankwatch/internal/supervisor"
	"github.com/nerrad567/tankwatch/internal/tank"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Supervisor manages tank connections. supervisor.Supervisor satisfies it.
type Supervisor interface {
	Add(ctx context.Context, t tank.Tank) error
	Remove(ctx context.Context, id string) error
	Update(ctx context.Context, oldID string, t tank.Tank) error
	Status() []supervisor.TankStatus
	TankStatus(id string) (supervisor.TankStatus, error)
	WithSession(ctx context.Context, id string, fn func(opcua.Session) error) error
}

var _ Supervisor = (*supervisor.Supervisor)(nil)

// Arbiter runs remote-access sessions. remoteaccess.Arbiter satisfies it.
type Arbiter interface {
	Request(ctx context.Context, tankID string) error
	Close(ctx context.Context, tankID string) error
	Reinitialize(ctx context.Context, tankID string) error
	Command(ctx context.Context, tankID string, cmd opcua.Command) error
	State(tankID string) remoteaccess.State
}

var _ Arbiter = (*remoteaccess.Arbiter)(nil)

// HistoryStore reads and clears telemetry history. history.Store satisfies it.
type HistoryStore interface {
	List(ctx context.Context, tankID string) ([]history.Entry, error)
	Clear(ctx context.Context, tankID string) (int64, error)
}

// DeviceListNotifier is told when the tank list changes.
type DeviceListNotifier interface {
	DeviceListChanged()
}

// HealthChecker is a dependency reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Registry   *tank.Registry
	Supervisor Supervisor
	Arbiter    Arbiter
	History    HistoryStore
	Notifier   DeviceListNotifier
	Audit      AuditLog                 // Optional operator action trail
	Hub        *Hub                     // If set, the server uses this hub instead of creating its own
	Metrics    http.Handler             // Prometheus exposition handler; /metrics is 404 when nil
	Health     map[string]HealthChecker // Named dependencies reported by /health
	Version    string
}

// Server is the HTTP API server for TankWatch.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	registry   *tank.Registry
	supervisor Supervisor
	arbiter    Arbiter
	history    HistoryStore
	notifier   DeviceListNotifier
	audit      AuditLog
	metrics    http.Handler
	health     map[string]HealthChecker
	version    string
	tickets    *ticketStore
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("tank registry is required")
	}
	if deps.Supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}
	if deps.Arbiter == nil {
		return nil, fmt.Errorf("remote-access arbiter is required")
	}
	if deps.History == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		registry:   deps.Registry,
		supervisor: deps.Supervisor,
		arbiter:    deps.Arbiter,
		history:    deps.History,
		notifier:   deps.Notifier,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		health:     deps.Health,
		version:    deps.Version,
		tickets:    newTicketStore(),
		hub:        deps.Hub,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless one was injected), the ticket
// cleanup loop and the HTTP listener in background goroutines. The server
// can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

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
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
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
