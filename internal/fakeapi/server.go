// Package fakeapi – Server
//
// This file builds a ready backend from a GORM handle and runs it with a
// graceful shutdown that closes realtime connections first.
package fakeapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-lostfound-client/internal/config"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/handlers"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/store"
)

const shutdownTimeout = 5 * time.Second

// Server is a fully wired fake backend.
type Server struct {
	Engine *gin.Engine
	Store  *store.Store
	Hub    *handlers.Hub

	cfg config.FakeAPIConfig
}

// New migrates db and wires the router.
func New(db *gorm.DB, cfg config.FakeAPIConfig, serviceName string) (*Server, error) {
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("fakeapi: migrate: %w", err)
	}
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	st := store.New(db, cfg.AccessTTL, cfg.RefreshTTL)
	hub := handlers.NewHub(st)
	r := gin.New()
	RegisterRoutes(r, st, hub, cfg, serviceName)
	return &Server{Engine: r, Store: st, Hub: hub, cfg: cfg}, nil
}

// Handler returns the root handler, for httptest servers.
func (s *Server) Handler() http.Handler { return s.Engine }

// Run listens on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("fakeapi: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("fake backend listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Hub.Close()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("fakeapi: shutdown: %w", err)
	}
	log.Info().Msg("fake backend stopped")
	return nil
}
