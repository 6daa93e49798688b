// Package server hosts the Dashboard contract's HTTP sink: a small gin
// router an operator or external dashboard polls for batch status, wrapped
// in gin-contrib/zap's Logger + Recovery middleware. Batch
// progress pushes go out from internal/orchestrator.Dashboard directly as
// webhook calls; this server only answers status reads.
package server

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RegisterFunc wires handlers onto the /api/v1 router group.
type RegisterFunc func(router *gin.RouterGroup)

// Server is a minimal HTTP server: Logger + Recovery middleware around an
// /api/v1 group populated by a RegisterFunc. Unlike the teacher's original
// dev/prod split, this server never serves a SPA — the Dashboard contract
// is an event sink with a status endpoint, not a rendered UI (spec.md scopes
// rendering out), so there's nothing to serve statics for.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	log    *zap.SugaredLogger
}

// NewServer builds a Server listening on addr (e.g. ":8080"). register is
// called once to populate the /api/v1 group; a caller composing several
// handler sets (e.g. status + health) combines them in one RegisterFunc.
func NewServer(addr string, register RegisterFunc) *Server {
	log := zap.L().Named("http")

	engine := gin.New()
	engine.Use(ginzap.Ginzap(log, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(log, true))

	group := engine.Group("/api/v1")
	register(group)

	return &Server{
		engine: engine,
		http:   &http.Server{Addr: addr, Handler: engine},
		log:    log.Sugar(),
	}
}

// Start blocks serving HTTP until ctx is cancelled or ListenAndServe
// returns an error other than http.ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	s.log.Infow("http server listening", "addr", s.http.Addr)

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts the server down, waiting up to 10s for in-flight
// requests to finish.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s.log.Infow("http server shutting down")
	return s.http.Shutdown(shutdownCtx)
}
