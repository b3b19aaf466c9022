// Package api implements the companion HTTP API of SPEC_FULL.md §12.7: REST
// routes under /dataforge for managing Connections and Queries and for
// triggering and inspecting /dataforge/execute runs, layered on top of the
// same loader/graph/executor pipeline the CLI drives. It is grounded on the
// teacher's api package's echo.New() + Logger/Recover/CORS middleware
// wiring, generalized from the teacher's own resource routes to bqm2's
// connection/query/job-execution document model.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dataforge/bqm2-engine/common"
	"github.com/dataforge/bqm2-engine/config"
	"github.com/dataforge/bqm2-engine/internal/api/auth"
	"github.com/dataforge/bqm2-engine/internal/store"
	"github.com/dataforge/bqm2-engine/internal/store/cache"
)

// RunFunc executes every descriptor folder under path and returns the
// resulting resource keys plus any that failed. The companion API never
// builds a graph itself — it always delegates to the same pipeline the CLI
// uses, supplied here as a closure so this package stays independent of
// loader/graph/executor wiring details.
type RunFunc func(ctx context.Context, folderPath string) (resourceKeys []string, failedKeys []string, err error)

// Server is the companion HTTP API: an echo.Echo instance plus the
// document store, cache, and run function its /dataforge routes depend on.
type Server struct {
	Echo *echo.Echo

	docs  store.DocumentRepository
	cache cache.Repository
	run   RunFunc

	srv *http.Server
}

// NewServer builds a Server with logging, recovery, and CORS middleware
// configured from cfg/cors, and an optional JWT guard on mutation routes
// when issuer is non-nil.
func NewServer(cfg config.ServerConfig, cors config.CORSConfig, issuer *auth.Issuer, docs store.DocumentRepository, c cache.Repository, run RunFunc) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cors.AllowedOrigins,
		AllowMethods: cors.AllowedMethods,
		AllowHeaders: cors.AllowedHeaders,
		MaxAge:       int(cors.MaxAge.Seconds()),
	}))

	s := &Server{Echo: e, docs: docs, cache: c, run: run}
	s.registerRoutes(issuer)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      e,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start serves until ctx is canceled, then shuts down within
// shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		common.Logger.WithField("addr", s.srv.Addr).Info("companion API listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
