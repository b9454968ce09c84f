package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/tierlist-core/internal/audit"
	"github.com/nerrad567/tierlist-core/internal/auth"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/config"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/database"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/logging"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tierlist-core/internal/metrics"
	"github.com/nerrad567/tierlist-core/internal/ratelimit"
	"github.com/nerrad567/tierlist-core/internal/tierlist"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EventPublisher receives domain events for tier and item mutations.
// *mqtt.Client satisfies it.
type EventPublisher interface {
	PublishEvent(ev mqtt.Event) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	DB    *database.DB // optional: system stats and health
	Users auth.UserRepository
	Tiers tierlist.TierRepository
	Items tierlist.ItemRepository

	Auth   *auth.Authenticator
	Policy *auth.Policy // built from Metrics when nil
	Gate   *auth.Gate   // built from Auth when nil

	Limiter   ratelimit.Limiter // optional
	Metrics   *metrics.Registry // optional
	Audit     *audit.Writer     // optional
	AuditRepo audit.Repository  // optional: GET /audit answers 503 without it
	Events    EventPublisher    // optional
	Version   string
}

// Server is the HTTP API server for Tier List Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	security config.SecurityConfig
	logger   *logging.Logger

	db        *database.DB
	users     auth.UserRepository
	tiers     tierlist.TierRepository
	items     tierlist.ItemRepository
	auth      *auth.Authenticator
	policy    *auth.Policy
	gate      *auth.Gate
	limiter   ratelimit.Limiter
	metrics   *metrics.Registry
	audit     *audit.Writer
	auditRepo audit.Repository
	events    EventPublisher
	version   string
	started   time.Time

	tickets *ticketStore
	hub     *Hub
	router  http.Handler
	server  *http.Server
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not listening until Start() is called, but Handler() is
// usable immediately.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if deps.Users == nil || deps.Tiers == nil || deps.Items == nil {
		return nil, errors.New("user, tier and item repositories are required")
	}

	policy := deps.Policy
	if policy == nil {
		var rec auth.Recorder
		if deps.Metrics != nil {
			rec = deps.Metrics
		}
		policy = auth.NewPolicy(rec)
	}
	gate := deps.Gate
	if gate == nil {
		gate = auth.NewGate(deps.Auth, auth.DefaultBypassPaths, deps.Logger.Logger)
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		security:  deps.Security,
		logger:    deps.Logger,
		db:        deps.DB,
		users:     deps.Users,
		tiers:     deps.Tiers,
		items:     deps.Items,
		auth:      deps.Auth,
		policy:    policy,
		gate:      gate,
		limiter:   deps.Limiter,
		metrics:   deps.Metrics,
		audit:     deps.Audit,
		auditRepo: deps.AuditRepo,
		events:    deps.Events,
		version:   deps.Version,
		started:   time.Now(),
		tickets:   newTicketStore(),
		hub:       NewHub(deps.WS, deps.Logger),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the WebSocket hub, the ticket janitor and the HTTP
// listener in background goroutines. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
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

// Close gracefully shuts down the API server, waiting up to
// gracefulShutdownTimeout for in-flight requests.
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
		return errors.New("api server not started")
	}

	return nil
}
