// Package server wires the pipeline services together behind one HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/internal/config"
	"github.com/evanhollis/eraflow/internal/dispatch"
	"github.com/evanhollis/eraflow/internal/era"
	"github.com/evanhollis/eraflow/internal/extract"
	"github.com/evanhollis/eraflow/internal/objstore"
	"github.com/evanhollis/eraflow/internal/server/endpoints"
	"github.com/evanhollis/eraflow/internal/split"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/svcctx"
	"github.com/evanhollis/eraflow/internal/sweep"
	"github.com/evanhollis/eraflow/internal/worker"
)

// Server is the eraflow HTTP server. It owns the analytical store, the
// object stores, the extraction worker pool and the recovery sweeper, and
// shuts them all down together.
type Server struct {
	httpServer *http.Server
	store      *store.Store
	stores     *objstore.Registry
	pool       *dispatch.Pool
	sweeper    *sweep.Sweeper
	configMgr  *config.Manager
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server construction options.
type Config struct {
	// ConfigManager provides configuration with hot-reload support (required).
	ConfigManager *config.Manager
	// Logger is the structured logger to use.
	Logger *slog.Logger
	// ExtractClient overrides the OpenAI-backed client (tests).
	ExtractClient extract.Client
}

// New creates a new Server, opening the store and wiring the pipeline.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := cfg.ConfigManager.Get()

	st, err := store.Open(store.Config{Path: c.Database.Path, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	stores, err := buildObjectStores(ctx, c.Storage)
	if err != nil {
		st.Close()
		return nil, err
	}

	client := cfg.ExtractClient
	if client == nil {
		client = extract.NewOpenAIClient(extract.OpenAIConfig{
			APIKey:     config.ResolveEnvVars(c.Extraction.APIKey),
			Model:      c.Extraction.Model,
			BaseURL:    c.Extraction.BaseURL,
			Timeout:    time.Duration(c.Extraction.TimeoutSeconds) * time.Second,
			MaxRetries: c.Extraction.MaxRetries,
			RateLimit:  c.Extraction.RateLimit,
		})
	}

	wrk := worker.New(st, stores, client, cfg.Logger)

	pool := dispatch.NewPool(dispatch.PoolConfig{
		Workers:        c.Pipeline.Workers,
		QueueSize:      c.Pipeline.QueueSize,
		ConfirmTimeout: c.Pipeline.ConfirmTimeout(),
		Handler:        wrk.Handler(),
		Logger:         cfg.Logger,
	})

	orch := split.New(st, stores, pool, split.Config{
		MaxPages:          c.Pipeline.MaxPages,
		MaxAttempts:       c.Pipeline.MaxAttempts,
		BatchSize:         c.Pipeline.BatchSize,
		BatchDelay:        c.Pipeline.BatchDelay(),
		UploadConcurrency: c.Pipeline.UploadConcurrency,
		PageStore:         c.Storage.PageStore,
		PageBucket:        c.Storage.PageBucket,
	}, cfg.Logger)

	sweeper := sweep.New(st, wrk, sweep.Config{
		Interval:   time.Duration(c.Sweep.IntervalSeconds) * time.Second,
		StaleAfter: time.Duration(c.Sweep.StaleAfterSeconds) * time.Second,
		Cooldown:   time.Duration(c.Sweep.CooldownSeconds) * time.Second,
		BatchSize:  c.Sweep.BatchSize,
	}, cfg.Logger)

	s := &Server{
		store:     st,
		stores:    stores,
		pool:      pool,
		sweeper:   sweeper,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	s.services = &svcctx.Services{
		Store:         st,
		Stores:        stores,
		Pool:          pool,
		Orchestrator:  orch,
		Sweeper:       sweeper,
		Encoder:       era.New(st, cfg.Logger),
		ConfigManager: cfg.ConfigManager,
		Logger:        cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port)),
		Handler:      s.withServices(mux),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	cfg.ConfigManager.OnChange(func(*config.Config) {
		cfg.Logger.Info("configuration reloaded; pipeline settings apply on restart")
	})

	return s, nil
}

// buildObjectStores constructs the named object stores from configuration.
func buildObjectStores(ctx context.Context, cfg config.StorageCfg) (*objstore.Registry, error) {
	stores := make(map[string]objstore.Store, len(cfg.Stores))
	for name, sc := range cfg.Stores {
		switch sc.Type {
		case "fs":
			fs, err := objstore.NewFS(sc.Root)
			if err != nil {
				return nil, fmt.Errorf("store %q: %w", name, err)
			}
			stores[name] = fs
		case "gcs":
			gcs, err := objstore.NewGCS(ctx)
			if err != nil {
				return nil, fmt.Errorf("store %q: %w", name, err)
			}
			stores[name] = gcs
		default:
			return nil, fmt.Errorf("store %q: unknown type %q", name, sc.Type)
		}
	}
	if _, ok := stores[cfg.PageStore]; !ok {
		return nil, fmt.Errorf("page store %q is not configured", cfg.PageStore)
	}
	return objstore.NewRegistry(stores), nil
}

// Start starts the worker pool, the sweeper and the HTTP server. It blocks
// until the context is cancelled or the HTTP server fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	poolCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.pool.Start(poolCtx)
	go s.sweeper.Start(poolCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			cancel()
			s.pool.Wait()
			_ = s.store.Close()
			s.setNotRunning()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown(cancel)
}

// shutdown drains HTTP, stops the pool and sweeper, and closes the store.
func (s *Server) shutdown(cancel context.CancelFunc) error {
	s.logger.Info("shutting down server")

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	cancel()
	s.pool.Wait()

	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the fully wired HTTP handler (tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Services returns the service set behind the API.
func (s *Server) Services() *svcctx.Services {
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the store or pipeline aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.pool == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
