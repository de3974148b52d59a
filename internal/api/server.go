// Package api provides the management HTTP server: fleet inspection,
// manual resets, and usage statistics. It is an operator surface, not a
// data plane; translation runs through the dispatcher.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/minhvu-dev/subsweep/internal/config"
	"github.com/minhvu-dev/subsweep/internal/keystore"
	"github.com/minhvu-dev/subsweep/internal/logging"
	log "github.com/minhvu-dev/subsweep/internal/logging"
	"github.com/minhvu-dev/subsweep/internal/rotation"
	"github.com/minhvu-dev/subsweep/internal/usage"
)

// Server hosts the management API.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	cfg    config.APIConfig

	store *keystore.Store
	sched *rotation.Scheduler
	sink  *usage.Sink

	// reload re-reads the credentials file; wired by the caller.
	reload func() error
}

// New builds the server. sink and reload may be nil.
func New(cfg config.APIConfig, st *keystore.Store, sched *rotation.Scheduler, sink *usage.Sink, reload func() error) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(corsMiddleware())

	s := &Server{
		engine: engine,
		cfg:    cfg,
		store:  st,
		sched:  sched,
		sink:   sink,
		reload: reload,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.Health)

	v1 := s.engine.Group("/v1")
	v1.GET("/keys", s.ListKeys)
	v1.GET("/stats", s.GetStats)
	v1.GET("/usage", s.GetUsage)

	protected := v1.Group("")
	protected.Use(s.authMiddleware())
	protected.POST("/keys/reset", s.ResetKeys)
	protected.POST("/rotation/reset", s.ResetRotation)
	protected.POST("/reload", s.Reload)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("management api listening on %s", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// corsMiddleware adds CORS headers to every response, allowing
// cross-origin requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authMiddleware protects mutating routes with a bearer token. An empty
// configured token disables the check.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AuthToken == "" {
			c.Next()
			return
		}
		const prefix = "Bearer "
		header := c.GetHeader("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix || header[len(prefix):] != s.cfg.AuthToken {
			respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing token")
			c.Abort()
			return
		}
		c.Next()
	}
}
