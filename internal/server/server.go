// Package server exposes the hub over HTTP: the /ws duplex endpoint, the
// polling fallback under /api/events and a health check.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/johan/oddsrelay/internal/hub"
	"github.com/johan/oddsrelay/internal/logging"
	"github.com/johan/oddsrelay/internal/store"
	"github.com/johan/oddsrelay/internal/ws"
)

// Options configures a Server.
type Options struct {
	Addr            string
	Mode            string // gin mode: debug, release or test
	ShutdownTimeout time.Duration
	WriteTimeout    time.Duration // per-frame websocket write deadline
	Logger          *zap.Logger
}

// Server serves the relay endpoints.
type Server struct {
	hub      *hub.Hub
	store    *store.Store
	opts     Options
	logger   *zap.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

// New builds the gin engine and registers routes.
func New(h *hub.Hub, st *store.Store, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	switch strings.ToLower(opts.Mode) {
	case gin.DebugMode:
		gin.SetMode(gin.DebugMode)
	case gin.TestMode:
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		hub:    h,
		store:  st,
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Viewers are served from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(requestLogger(s.logger))
	s.register(engine)
	s.engine = engine

	return s
}

func (s *Server) register(r *gin.Engine) {
	r.GET("/ws", s.handleWS)
	r.GET("/healthz", s.health)

	api := r.Group("/api")
	api.GET("/events", s.listEvents)
	api.GET("/events/:id", s.getEvent)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", zap.String("addr", s.opts.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	wc := ws.NewConn(conn, s.opts.WriteTimeout)
	sub, err := s.hub.Subscribe(wc)
	if err != nil {
		s.logger.Warn("rejecting subscriber", zap.Error(err))
		return
	}
	s.logger.Debug("websocket subscriber connected",
		zap.String("subscriber", sub.ID),
		zap.String("remote", wc.RemoteAddr()))
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"hub":    s.hub.Stats(),
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/ws" {
			return
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
