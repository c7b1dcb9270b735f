// Package httpapi exposes analyses over HTTP with gin
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Config configures the HTTP API server
type Config struct {
	ListenAddress  string
	Mode           string
	OwnerHeader    string
	MaxUploadBytes int64
	// JWTSecret switches owner resolution from the header to bearer tokens
	JWTSecret string
}

// Server is the HTTP API; it implements ports.Server
type Server struct {
	cfg    Config
	engine *gin.Engine
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds the router
func NewServer(cfg Config, handler *AnalysisHandler, logger *zap.Logger) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.OwnerHeader == "" {
		cfg.OwnerHeader = "X-Owner-ID"
	}

	r := gin.New()
	r.Use(RequestLogger(logger), gin.Recovery())
	if cfg.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = 32 << 20
		r.Use(func(c *gin.Context) {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxUploadBytes)
			c.Next()
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	analyses := apiV1.Group("/analyses")
	if cfg.JWTSecret != "" {
		analyses.Use(BearerAuth([]byte(cfg.JWTSecret), logger))
	} else {
		analyses.Use(OwnerAuth(cfg.OwnerHeader))
	}
	{
		analyses.POST("", handler.Create)
		analyses.GET("/:id", handler.Get)
		analyses.DELETE("/:id", handler.Delete)
		analyses.GET("/:id/stream", handler.Stream)
		analyses.GET("/:id/ws", handler.StreamWS)
	}

	return &Server{cfg: cfg, engine: r, logger: logger}
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}

	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP API started", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP API stopped unexpectedly", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("Stopping HTTP API")
	return s.srv.Shutdown(ctx)
}
