package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/knxsync/internal/audit"
	"github.com/nerrad567/knxsync/internal/entity"
	"github.com/nerrad567/knxsync/internal/infrastructure/config"
	"github.com/nerrad567/knxsync/internal/infrastructure/logging"
	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/syncer"
)

const gracefulShutdownTimeout = 10 * time.Second

// EntityStore persists entity configurations.
type EntityStore interface {
	List(ctx context.Context) ([]entity.Entity, error)
	Get(ctx context.Context, id string) (entity.Entity, error)
	Put(ctx context.Context, e entity.Entity) (created bool, err error)
	Delete(ctx context.Context, id string) error
	Snapshot(ctx context.Context) (entity.Set, error)
}

// Syncer is the running sync engine.
type Syncer interface {
	Reload(ctx context.Context, set entity.Set) error
	Status() syncer.Status
	Entities() []string
}

// BusStatus reports the knxd connection.
type BusStatus interface {
	IsConnected() bool
	Stats() knx.Stats
}

// Connectivity reports whether a transport is connected.
type Connectivity interface {
	IsConnected() bool
}

// AddressLister lists group addresses observed on the bus.
type AddressLister interface {
	ListGroupAddresses(ctx context.Context) ([]knx.ObservedAddress, error)
}

// AuditLog records and lists entity configuration changes.
type AuditLog interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Store    EntityStore
	Syncer   Syncer

	Bus       BusStatus     // optional
	MQTT      Connectivity  // optional
	Addresses AddressLister // optional: nil when address recording is off
	Metrics   http.Handler  // optional: served at /metrics
	Audit     AuditLog      // optional: nil disables change recording

	// Hub receives sync events for websocket clients. When nil the server
	// creates its own, reachable through Hub().
	Hub     *Hub
	Version string
}

// Server serves the REST API under /api/v1 and the websocket feed.
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	store     EntityStore
	syncer    Syncer
	bus       BusStatus
	mqtt      Connectivity
	addresses AddressLister
	metrics   http.Handler
	audit     AuditLog
	hub       *Hub
	tickets   *ticketStore
	version   string
	startTime time.Time

	// reconfigMu serialises entity writes with the reload that follows, so
	// the engine always ends on the latest stored configuration.
	reconfigMu sync.Mutex

	server *http.Server
	cancel context.CancelFunc
}

// New checks deps and builds an unstarted server.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.Store == nil:
		return nil, errors.New("api: entity store is required")
	case deps.Syncer == nil:
		return nil, errors.New("api: syncer is required")
	case deps.Security.JWT.Secret == "":
		return nil, errors.New("api: jwt secret is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.Logger)
	}

	return &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		store:     deps.Store,
		syncer:    deps.Syncer,
		bus:       deps.Bus,
		mqtt:      deps.MQTT,
		addresses: deps.Addresses,
		metrics:   deps.Metrics,
		audit:     deps.Audit,
		hub:       hub,
		tickets:   newTicketStore(),
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Hub returns the websocket hub. Register it as a dispatcher observer to
// feed connected clients.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in the background until Close or
// ctx is cancelled. A bind failure is returned.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Close stops the hub and waits up to gracefulShutdownTimeout for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

// HealthCheck fails before Start.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
