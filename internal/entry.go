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

	"github.com/starford/mdlinks/internal/api"
	"github.com/starford/mdlinks/internal/engine"
	"github.com/starford/mdlinks/internal/graphdb"
	"github.com/starford/mdlinks/internal/index"
	"github.com/starford/mdlinks/internal/mcpserver"
	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/observability"
	"github.com/starford/mdlinks/internal/pathnorm"
	"github.com/starford/mdlinks/internal/storage"
	"github.com/starford/mdlinks/internal/validate"
	"github.com/starford/mdlinks/internal/watch"
)

const shutdownTimeout = 10 * time.Second

// runtime holds the components built from the configuration.
type runtime struct {
	logger *slog.Logger
	files  *storage.FS
	tracer *observability.TracerProvider
	sqlite *index.DB
	neo4j  *graphdb.Repository
	engine *engine.Engine
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// build wires storage, tracing, mirrors and the engine. Mirrors that cannot
// be opened are skipped with a warning.
func (a *application) build(ctx context.Context) (*runtime, error) {
	cfg := a.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("root", cfg.Graph.Root),
		slog.String("snapshot", cfg.Graph.SnapshotPath()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("neo4j", cfg.Neo4j.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Graph.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create root dir: %w", err)
	}

	files, err := storage.NewFS(cfg.Graph.Root, cfg.Graph.MetaDir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: a.version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	rt := &runtime{logger: logger, files: files, tracer: tp}
	var mirrors []engine.Mirror

	if cfg.SQLite.Enabled() {
		db, err := index.Open(cfg.SQLite.Path)
		if err != nil {
			logger.Warn("sqlite mirror disabled", slog.String("error", err.Error()))
		} else {
			rt.sqlite = db
			mirrors = append(mirrors, db)
		}
	}

	if cfg.Neo4j.Enabled() {
		repo, err := graphdb.Open(ctx, graphdb.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
		})
		if err != nil {
			logger.Warn("neo4j mirror disabled", slog.String("error", err.Error()))
		} else {
			rt.neo4j = repo
			mirrors = append(mirrors, repo)
		}
	}

	rt.engine = engine.New(files, engine.Options{
		Logger:       logger,
		Tracer:       tp.Tracer(),
		Mirrors:      mirrors,
		Debounce:     cfg.Graph.Debounce,
		ScanWorkers:  cfg.Graph.ScanWorkers,
		SnapshotPath: cfg.Graph.SnapshotPath(),
	})
	return rt, nil
}

// close drains the engine, then releases mirrors and the tracer.
func (rt *runtime) close(ctx context.Context) {
	if err := rt.engine.Close(ctx); err != nil {
		rt.logger.Error("engine shutdown error", slog.String("error", err.Error()))
	}
	if rt.sqlite != nil {
		if err := rt.sqlite.Close(); err != nil {
			rt.logger.Warn("sqlite close error", slog.String("error", err.Error()))
		}
	}
	if rt.neo4j != nil {
		if err := rt.neo4j.Close(ctx); err != nil {
			rt.logger.Warn("neo4j close error", slog.String("error", err.Error()))
		}
	}
	if err := rt.tracer.Shutdown(ctx); err != nil {
		rt.logger.Warn("tracer shutdown error", slog.String("error", err.Error()))
	}
}

func (rt *runtime) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	rt.close(ctx)
}

// newHTTPHandler mounts the health checks and the API.
func newHTTPHandler(eng *engine.Engine, auth AuthConfig) http.Handler {
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
		if !eng.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"starting"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(eng, auth.AuthEnabled(), auth.Token))
	return r
}

// Run starts the HTTP server, the initial graph build and the file watcher,
// and blocks until a shutdown signal arrives or a component fails.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	rt, err := app.build(ctx)
	if err != nil {
		return err
	}
	defer rt.shutdown()
	logger := rt.logger

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newHTTPHandler(rt.engine, cfg.Auth),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	// Register the watch before the initial build so edits made during it
	// are held by the engine and replayed once it is ready.
	watcher, err := watch.New(rt.files, rt.files.Root(), logger)
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := watcher.Run(gCtx, rt.engine); err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	})

	// Build the graph.
	g.Go(func() error {
		if err := rt.engine.Start(gCtx); err != nil {
			return fmt.Errorf("engine start: %w", err)
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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		cancel()

		logger.Info("Shutting down server...")

		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
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

// RunMCP builds the graph and serves the MCP tools on stdin/stdout while the
// file watcher keeps the graph current.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}

	rt, err := app.build(ctx)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	watcher, err := watch.New(rt.files, rt.files.Root(), rt.logger)
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Run(gCtx, rt.engine)
	})

	if err := rt.engine.Start(gCtx); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("engine start: %w", err)
	}

	g.Go(func() error {
		defer cancel()
		return mcpserver.New(rt.engine, app.version).ServeStdio()
	})

	return g.Wait()
}

// RunValidate performs one full rebuild, saves the snapshot and returns the
// validation report.
func RunValidate(ctx context.Context, opts ...Option) (validate.Report, error) {
	app, err := newApplication(opts)
	if err != nil {
		return validate.Report{}, err
	}

	rt, err := app.build(ctx)
	if err != nil {
		return validate.Report{}, err
	}
	defer rt.shutdown()

	if err := rt.engine.Start(ctx); err != nil {
		return validate.Report{}, fmt.Errorf("engine start: %w", err)
	}
	return rt.engine.Validate(), nil
}

// Backlinks reads the edges pointing at path from the SQLite mirror without
// starting the engine.
func Backlinks(ctx context.Context, cfg *Config, path string) ([]models.Edge, error) {
	if !cfg.SQLite.Enabled() {
		return nil, fmt.Errorf("backlinks: sqlite mirror is not configured")
	}
	if _, err := os.Stat(cfg.SQLite.Path); err != nil {
		return nil, fmt.Errorf("backlinks: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("backlinks: %w", err)
	}
	defer db.Close()

	edges, err := db.Backlinks(ctx, pathnorm.Normalize(path))
	if err != nil {
		return nil, fmt.Errorf("backlinks: %w", err)
	}
	return edges, nil
}
