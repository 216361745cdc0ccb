// Package ws exposes the action stream over WebSocket. Every connection
// becomes a broadcast subscriber and receives one {"key": label} text frame
// per action.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"keyrelay/internal/broadcast"
	"keyrelay/internal/observability"
)

// Config configures the WebSocket server.
type Config struct {
	ListenAddr   string
	EnableCORS   bool
	QueueSize    int
	WriteTimeout time.Duration
	PingInterval time.Duration
	Debug        bool
}

// DefaultConfig returns the defaults used for zero fields.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "0.0.0.0:9000",
		EnableCORS:   true,
		QueueSize:    64,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	out := c
	out.ListenAddr = strings.TrimSpace(out.ListenAddr)
	if out.ListenAddr == "" {
		out.ListenAddr = def.ListenAddr
	}
	if out.QueueSize <= 0 {
		out.QueueSize = def.QueueSize
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.PingInterval < 0 {
		out.PingInterval = 0
	}
	return out
}

// Hub is the registry the server hands connections to.
type Hub interface {
	Register(broadcast.Subscriber) bool
	Unregister(broadcast.Subscriber)
	Stats() broadcast.Stats
}

// Server accepts subscriber connections and serves health and metrics.
type Server struct {
	cfg      Config
	hub      Hub
	engine   *gin.Engine
	upgrader websocket.Upgrader
	metrics  http.Handler
	logger   *observability.Logger
	started  time.Time

	mu      sync.RWMutex
	httpSrv *http.Server
	addr    string
	conns   sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *observability.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer builds the router. Nothing listens until Start or Run.
func NewServer(cfg Config, hub Hub, opts ...ServerOption) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		logger:  observability.NopLogger(),
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Subscribers are unauthenticated; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestLogger())

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	s.engine = engine
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/ws", s.handleWebSocket)
	s.engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.httpSrv != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", s.cfg.ListenAddr, err)
	}
	httpSrv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpSrv = httpSrv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	s.logger.Info("websocket server listening", "addr", s.addr)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

// Close stops accepting connections and waits for open handlers to return.
// Subscribers themselves are closed by the hub.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.addr = ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	// Shutdown does not track hijacked connections.
	err := srv.Shutdown(ctx)
	waited := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
	}
	return err
}

// Run serves until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Close(shutdownCtx)
}

func (s *Server) handleRoot(c *gin.Context) {
	if websocket.IsWebSocketUpgrade(c.Request) {
		s.handleWebSocket(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"service":   "keyrelay",
		"websocket": "/ws",
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote", c.Request.RemoteAddr, "error", err)
		return
	}

	sub := newSubscriber(conn, s.cfg, s.logger)
	if !s.hub.Register(sub) {
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	s.logger.Info("client connected", "subscriber_id", sub.ID(), "remote", sub.remote)
	go sub.writeLoop()
	sub.readLoop()
	s.hub.Unregister(sub)
	s.logger.Info("client disconnected", "subscriber_id", sub.ID(), "remote", sub.remote)
}

type healthResponse struct {
	Status      string          `json:"status"`
	Subscribers int             `json:"subscribers"`
	Stats       broadcast.Stats `json:"stats"`
	Uptime      string          `json:"uptime"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.hub.Stats()
	c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Subscribers: stats.Active,
		Stats:       stats,
		Uptime:      time.Since(s.started).Truncate(time.Second).String(),
		Timestamp:   time.Now().UTC(),
	})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// WebSocket handlers return when the connection ends; that is logged separately.
		if websocket.IsWebSocketUpgrade(c.Request) {
			return
		}
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote", c.ClientIP(),
		)
	}
}
