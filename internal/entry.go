// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/fenwick/mnemon/internal/api"
	"github.com/fenwick/mnemon/internal/canonlog"
	"github.com/fenwick/mnemon/internal/compiler"
	"github.com/fenwick/mnemon/internal/embedding"
	"github.com/fenwick/mnemon/internal/memoryservice"
	"github.com/fenwick/mnemon/internal/promotion"
	"github.com/fenwick/mnemon/internal/sse"
	"github.com/fenwick/mnemon/internal/vecstore"
)

// NewLogger builds the structured JSON logger used by every surface.
func NewLogger(cfg *Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// NewProvider builds the embedding provider selected by the config.
func NewProvider(cfg *Config) embedding.Provider {
	if cfg.Embedding.Provider == ProviderRemote {
		return embedding.NewRemote(
			cfg.Embedding.BaseURL,
			cfg.Embedding.APIKey,
			cfg.Embedding.Model,
			cfg.Embedding.Dims,
			cfg.Embedding.Timeout(),
		)
	}
	return embedding.NewLocal()
}

// BuildService wires the canonical log, vector store, and memory
// service from configuration. The returned cleanup closes the store.
func BuildService(cfg *Config, logger *slog.Logger) (*memoryservice.Service, func() error, error) {
	if err := os.MkdirAll(cfg.Log.StateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}

	source, err := canonlog.NewFS(cfg.Log.StateDir)
	if err != nil {
		return nil, nil, fmt.Errorf("init canonical log source: %w", err)
	}
	log := canonlog.New(source, canonlog.WithTimestampFallback(cfg.Log.TimestampFallback))

	store, err := vecstore.Open(cfg.Store.Path, NewProvider(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("open vector store: %w", err)
	}

	svc := memoryservice.New(log, store,
		promotion.Config{
			MaxDepth:  cfg.Promotion.MaxDepth,
			Threshold: cfg.Promotion.Threshold,
			DecayK:    cfg.Promotion.DecayK,
			Policy:    cfg.Promotion.Policy,
		},
		compiler.Config{
			TokenBudget:  cfg.Compile.TokenBudget,
			TopK:         cfg.Compile.TopK,
			StrictEntity: cfg.Compile.StrictEntity,
			DecayK:       cfg.Promotion.DecayK,
			MaxDepth:     cfg.Promotion.MaxDepth,
			RecencyDays:  cfg.Compile.RecencyDays,
			RecencyBoost: cfg.Compile.RecencyBoost,
		},
		logger)

	return svc, store.Close, nil
}

// Run starts the HTTP serve mode with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config
	logger := NewLogger(cfg)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("state_dir", cfg.Log.StateDir),
		slog.String("store_path", cfg.Store.Path),
		slog.String("embedding_provider", cfg.Embedding.Provider),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, cleanup, err := BuildService(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// Initial sync.
	if _, err := svc.Load(ctx, false); err != nil {
		logger.Warn("initial load failed", slog.String("error", err.Error()))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the state dir and re-sync the projection when author files
	// change outside the API.
	g.Go(func() error {
		err := svc.Watch(gCtx, cfg.Log.StateDir, func(indexed int) {
			broker.PublishMemoryEvent("indexed", "", "")
			logger.Info("resync complete", slog.Int("indexed", indexed))
		})
		if err != nil {
			logger.Warn("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
