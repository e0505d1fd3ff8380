package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cstlee/RooBench/internal/agentd"
	"github.com/cstlee/RooBench/pkg/tools/logger"
)

// Server is the agent daemon's HTTP API.
type Server struct {
	engine       *gin.Engine
	agentService *AgentService
	port         int
}

// NewServer creates the HTTP server for ctrl.
func NewServer(port int, ctrl *agentd.Controller) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		engine:       gin.New(),
		agentService: NewAgentService(ctrl),
		port:         port,
	}
	server.engine.Use(gin.Recovery())

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api/v1")
	{
		api.POST("/provision", s.agentService.Provision)
		api.POST("/commands/:kind", s.agentService.Command)
		files := api.Group("/files")
		{
			files.GET("", s.agentService.ListFiles)
			files.GET("/:name", s.agentService.GetFile)
		}
	}

	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, Success(gin.H{"status": "ok"}))
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	log := logger.WithComponent("SERVER")
	log.Info("Agent API listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("Agent API stopped")
	return nil
}
