// Package server exposes detectors and recorded runs over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/acqctl/internal/auth"
	"github.com/danmuck/acqctl/internal/docstore"
	"github.com/danmuck/acqctl/internal/observability"
	"github.com/danmuck/acqctl/internal/plan"
	"github.com/danmuck/acqctl/internal/registry"
)

var ErrRunInProgress = errors.New("a run is already in progress")

// ShutdownTimeout bounds how long Serve waits for in-flight requests, such
// as a running count, once its context ends.
const ShutdownTimeout = 30 * time.Second

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	registry *registry.Registry
	store    *docstore.Store
	router   *gin.Engine
	guard    auth.Validator

	running sync.Mutex
}

type Option func(*Server)

// WithToken requires a bearer token on endpoints that start runs.
func WithToken(v auth.Validator) Option {
	return func(s *Server) { s.guard = v }
}

func New(id, addr string, reg *registry.Registry, store *docstore.Store, corsOrigins []string, opts ...Option) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		registry: reg,
		store:    store,
		router:   r,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve listens on Addr and serves until ctx ends, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx ends. In-flight requests get up to
// ShutdownTimeout to finish before it returns.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- hs.Serve(ln) }()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	err := hs.Shutdown(shutdownCtx)
	if serr := <-errc; serr != nil && !errors.Is(serr, http.ErrServerClosed) && err == nil {
		err = serr
	}
	if err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("admin server stopped")
	return nil
}

// Count runs a count plan over the selected detectors and records it in the
// store. Only one run executes at a time.
func (s *Server) Count(ctx context.Context, ids []string, num int) (string, error) {
	if !s.running.TryLock() {
		return "", ErrRunInProgress
	}
	defer s.running.Unlock()

	dets, err := s.registry.Select(ids...)
	if err != nil {
		return "", err
	}
	uid, err := plan.Count(ctx, observability.CountingSink(s.store.Sink()), dets, num)
	if err != nil {
		return uid, fmt.Errorf("count run %s: %w", uid, err)
	}
	log.Info().Str("run", uid).Int("num", num).Int("detectors", len(dets)).Msg("count run complete")
	return uid, nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
