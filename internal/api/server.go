// Package api exposes the bot's synchronous control surface: a status probe
// for the watchdog, a snapshot read, a circuit-breaker check, and triggers
// for the strategy adjuster and the analysis cycle.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cryptum-bot/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server is the HTTP control surface
type Server struct {
	engine   *gin.Engine
	server   *http.Server
	handlers *Handlers
	logger   zerolog.Logger
}

// NewServer wires routes and middleware
func NewServer(cfg config.ServerConfig, handlers *Handlers, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{cfg.AllowedOrigins}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	engine.Use(cors.New(corsConfig))

	s := &Server{
		engine:   engine,
		handlers: handlers,
		logger:   logger.With().Str("component", "api").Logger(),
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      engine,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// Watchdog probe, kept outside the versioned group
	s.engine.GET("/api/status", s.handlers.Status)

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/snapshot", s.handlers.Snapshot)
		v1.GET("/circuit-breaker", s.handlers.CircuitBreaker)
		v1.POST("/strategy/adjust", s.handlers.AdjustStrategy)
		v1.POST("/cycle", s.handlers.TriggerCycle)
	}
}

// Start runs the HTTP server until Shutdown
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
