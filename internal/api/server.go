// Package api exposes command execution and history over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/dispatch"
	"github.com/energizer-project/rconsole/internal/health"
	"github.com/energizer-project/rconsole/internal/util"
)

// Runner executes one-shot commands. *dispatch.Dispatcher implements it.
type Runner interface {
	Run(ctx context.Context, server, command string, opts dispatch.RunOptions) (dispatch.Result, error)
}

// HistoryReader lists recorded commands. *db.HistoryStore implements it.
type HistoryReader interface {
	Recent(ctx context.Context, server string, limit int) ([]db.HistoryEntry, error)
}

// HealthReader reports the latest login probe results.
// *health.Manager implements it.
type HealthReader interface {
	Snapshot() []health.Status
}

// Server is the HTTP API server.
type Server struct {
	cfg     *config.Config
	runner  Runner
	history HistoryReader
	health  HealthReader
	logger  zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
	addr       chan net.Addr
}

// NewServer creates an API server. history may be nil when history is
// disabled.
func NewServer(cfg *config.Config, runner Runner, history HistoryReader) *Server {
	if strings.EqualFold(cfg.Logging.Level, "debug") || strings.EqualFold(cfg.Logging.Level, "trace") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		runner:  runner,
		history: history,
		logger:  util.ComponentLogger("api"),
		addr:    make(chan net.Addr, 1),
	}
	s.router = s.buildRouter()
	return s
}

// SetHealth enables the health endpoint. Call before Start.
func (s *Server) SetHealth(h HealthReader) {
	s.health = h
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr blocks until Start has bound its listener and returns the address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case a := <-s.addr:
		s.addr <- a
		return a, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.API.ListenAddr
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	s.addr <- ln.Addr()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.Use(NewRateLimiter(s.cfg.API.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
	}

	protected := router.Group("/api")
	protected.Use(TokenAuth(s.cfg.API.Token))
	{
		protected.GET("/servers", s.handleListServers)
		protected.POST("/servers/:name/execute", s.handleExecute)
		protected.GET("/history", s.handleHistory)
		protected.GET("/health", s.handleHealth)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}
