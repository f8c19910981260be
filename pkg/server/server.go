package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"proxy-provisioner/pkg/provisioning"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	// Token is the bearer token every route but /health requires.
	Token  string
	Logger *slog.Logger
}

// Server is the operator HTTP API over the provisioning service.
type Server struct {
	svc    *provisioning.Service
	token  string
	logger *slog.Logger
	router *gin.Engine
}

func New(svc *provisioning.Service, opts Options) (*Server, error) {
	if svc == nil {
		return nil, errors.New("provisioning service is required")
	}
	if opts.Token == "" {
		return nil, errors.New("server token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{svc: svc, token: opts.Token, logger: logger}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.logger))

	r.GET("/health", s.health)

	api := r.Group("/", AuthMiddleware(s.token))
	api.POST("/plans", s.createPlan)
	api.GET("/plans", s.listPlans)
	api.GET("/plans/:id", s.getPlan)
	api.PATCH("/plans/:id", s.updatePlan)
	api.DELETE("/plans/:id", s.deletePlan)
	api.POST("/plans/:id/reassign-port", s.reassignPort)
	api.GET("/ports", s.portUsage)
	api.POST("/sync", s.sync)
	api.POST("/expire", s.expire)

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP API", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
