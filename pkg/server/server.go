package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jammwork/jammwork-sub000/internal/clock"
	"github.com/jammwork/jammwork-sub000/pkg/session"
)

// Server accepts WebSocket connections, attaches them to rooms in the
// registry, and runs heartbeat and maintenance sweeps.
type Server struct {
	config   *Config
	registry *session.Registry
	upgrader websocket.Upgrader
	monitor  *HealthMonitor
	metrics  *Metrics
	gatherer prometheus.Gatherer
	clock    clock.Clock
	logger   *slog.Logger
	router   chi.Router

	httpServer *http.Server

	mu       sync.Mutex
	conns    map[string]*Conn
	stopping bool
	wg       sync.WaitGroup

	stopMaintenance chan struct{}
	maintenanceOnce sync.Once
	maintenanceDone chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the collectors the server records to. The same
// Metrics should be passed to the registry with session.WithMetrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithGatherer sets the source served on /metrics.
// Default: prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithClock sets the clock driving maintenance tickers.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) {
		s.clock = clk
	}
}

// New creates a server for registry. Unset config fields use defaults.
func New(config *Config, registry *session.Registry, opts ...Option) *Server {
	config = config.withDefaults()

	s := &Server{
		config:          config,
		registry:        registry,
		conns:           make(map[string]*Conn),
		stopMaintenance: make(chan struct{}),
		maintenanceDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "server")
	if s.metrics == nil {
		s.metrics = NewMetrics(WithRegistry(prometheus.NewRegistry()))
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     config.CheckOrigin,
	}
	s.monitor = NewHealthMonitor(s.logger, s.metrics)

	r := chi.NewRouter()
	r.Get("/ws/{room}", s.HandleWebSocket)
	r.Get("/ws", s.HandleWebSocket)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router = r

	return s
}

// Handler returns the HTTP handler serving WebSocket and admin routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Monitor returns the connection health monitor.
func (s *Server) Monitor() *HealthMonitor {
	return s.monitor
}

// Registry returns the room registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// HandleWebSocket upgrades the request and serves the connection until
// it closes. The room id comes from the {room} path segment or the
// "room" query parameter; "user" is an optional user id.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")
	if roomID == "" {
		roomID = r.URL.Query().Get("room")
	}
	if roomID == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("user")

	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		s.logger.Debug("websocket upgrade failed", "error", err, "room_id", roomID)
		return
	}

	c := newConn(uuid.NewString(), userID, roomID, ws, s.config, s.logger)
	if !s.addConn(c) {
		c.closeWithReason(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.removeConn(c)

	room, err := s.registry.AddConnection(r.Context(), roomID, c)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, session.ErrRegistryStopped) {
			code = websocket.CloseGoingAway
		} else if errors.Is(err, session.ErrInvalidRoomID) {
			code = websocket.ClosePolicyViolation
		}
		c.logger.Warn("failed to attach connection", "error", err)
		c.closeWithReason(code, "room unavailable")
		return
	}

	s.metrics.connectionOpened()
	s.monitor.Track(c)
	c.logger.Info("connection opened", "user_id", userID, "remote_addr", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop(func(data []byte) {
		s.dispatch(c, room, data)
	})

	s.monitor.Untrack(c.ID())
	s.registry.RemoveConnection(room, c)
	s.metrics.connectionClosed()
	c.logger.Info("connection closed",
		"user_id", userID,
		"duration", time.Since(c.connectedAt).Round(time.Millisecond))
}

func (s *Server) addConn(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.conns[c.ID()] = c
	s.wg.Add(1)
	return true
}

func (s *Server) removeConn(c *Conn) {
	c.Close()
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()
	s.wg.Done()
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"rooms":       s.registry.Len(),
		"connections": s.Connections(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.registry.Stats()); err != nil {
		s.logger.Debug("stats encode error", "error", err)
	}
}

// StartMaintenance starts the heartbeat and registry sweep loop. It is
// called by Serve; tests driving a fake clock may call it directly.
func (s *Server) StartMaintenance() {
	s.maintenanceOnce.Do(func() {
		go s.maintenanceLoop()
	})
}

func (s *Server) maintenanceLoop() {
	defer close(s.maintenanceDone)

	heartbeat := s.clock.NewTicker(s.config.HeartbeatInterval)
	defer heartbeat.Stop()

	interval := s.registry.Config().PersistInterval
	if interval <= 0 {
		interval = session.DefaultRegistryConfig().PersistInterval
	}
	sweep := s.clock.NewTicker(interval)
	defer sweep.Stop()

	for {
		select {
		case <-heartbeat.C():
			if terminated := s.monitor.Sweep(); len(terminated) > 0 {
				s.logger.Info("heartbeat sweep", "terminated", len(terminated))
			}
		case <-sweep.C():
			ctx, cancel := context.WithTimeout(context.Background(), s.registry.Config().PersistTimeout)
			if err := s.registry.Sweep(ctx); err != nil {
				s.logger.Warn("registry sweep failed", "error", err)
			}
			cancel()
		case <-s.stopMaintenance:
			return
		}
	}
}

// Serve accepts connections on l until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
	s.StartMaintenance()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", l.Addr().String())
		errCh <- s.httpServer.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Run listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Shutdown stops accepting connections, closes every open connection,
// and persists all resident rooms.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	for _, c := range conns {
		c.closeWithReason(websocket.CloseGoingAway, "server shutting down")
	}
	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		s.logger.Warn("timed out waiting for connections to close")
		errs = append(errs, ctx.Err())
	}

	s.maintenanceOnce.Do(func() { close(s.maintenanceDone) })
	close(s.stopMaintenance)
	<-s.maintenanceDone

	if err := s.registry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("server shutdown complete", "connections_closed", len(conns))
	return errors.Join(errs...)
}
