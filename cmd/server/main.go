package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hiroki-koketsu/go-todo/internal/auth"
	"github.com/hiroki-koketsu/go-todo/internal/cache"
	"github.com/hiroki-koketsu/go-todo/internal/config"
	"github.com/hiroki-koketsu/go-todo/internal/handler"
	"github.com/hiroki-koketsu/go-todo/internal/repository"
	"github.com/hiroki-koketsu/go-todo/internal/repository/postgres"
	"github.com/hiroki-koketsu/go-todo/internal/repository/sqlite"
	"github.com/hiroki-koketsu/go-todo/internal/service"
	"github.com/hiroki-koketsu/go-todo/internal/telemetry"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "optional YAML configuration file")
	flag.Parse()

	// Create a basic logger for startup (before OTel is initialized)
	startupLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		startupLogger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	startupLogger.Info("starting application",
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("store", cfg.StoreDriver),
	)

	if err := run(cfg, startupLogger); err != nil {
		startupLogger.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, startupLogger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := startupLogger
	if cfg.TelemetryEnabled {
		providers, err := telemetry.Setup(ctx, telemetry.Settings{
			ServiceName:  cfg.ServiceName,
			Environment:  cfg.Environment,
			OTLPEndpoint: cfg.OTLPEndpoint,
		})
		if err != nil {
			return fmt.Errorf("initialize telemetry: %w", err)
		}
		defer func() {
			if err := providers.Shutdown(context.Background()); err != nil {
				startupLogger.Error("failed to shutdown telemetry providers", slog.Any("error", err))
			}
		}()
		logger = providers.Logger
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var opts []service.Option
	var listCache *cache.ListCache
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		listCache = cache.New(client, "todo:tasks:", cfg.CacheTTL)
		opts = append(opts, service.WithCache(listCache))
		logger.Info("list cache enabled", slog.String("addr", cfg.RedisAddr))
	}

	taskService := service.NewTaskService(store, logger, opts...)

	metrics, err := telemetry.NewMetrics(otel.Meter(cfg.ServiceName), store.Count)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	taskHandler := handler.NewTaskHandler(taskService, logger, metrics)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CleanPath)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint (excluded from tracing)
	r.Get("/health", taskHandler.Health)
	r.Get("/api-docs", taskHandler.Docs)

	r.Route("/api", func(r chi.Router) {
		if cfg.AuthJWTSecret != "" {
			r.Use(auth.NewVerifier(cfg.AuthJWTSecret, cfg.ServiceName).Middleware(taskHandler.Unauthorized))
		}
		r.Mount("/tasks", taskHandler.Routes())
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(r)

	otelHandler := otelhttp.NewHandler(corsHandler, "http-server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      otelHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if listCache != nil {
		stats := listCache.Snapshot()
		logger.Info("list cache stats",
			slog.Uint64("hits", stats.Hits),
			slog.Uint64("misses", stats.Misses),
			slog.Uint64("errors", stats.Errors),
		)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.New(pool)
		if err := store.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure tasks table: %w", err)
		}
		return store, pool.Close, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return repository.NewTaskRepository(), func() {}, nil
	}
}
