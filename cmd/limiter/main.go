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
	"sync"
	"syscall"
	"time"

	"noteprompt/internal/api"
	"noteprompt/internal/config"
	"noteprompt/internal/logger"
	"noteprompt/internal/models"
	"noteprompt/internal/observability"
	"noteprompt/internal/quota"
	"noteprompt/internal/ratelimit"
	"noteprompt/internal/storage"
	"noteprompt/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version information and exit")
	examplePath = flag.String("example", "", "Write an example configuration file to this path and exit")
)

func main() {
	flag.Parse()

	info := version.GetInfo()

	if *showVersion {
		fmt.Println(info.String())
		return
	}

	if *examplePath != "" {
		if err := config.SaveExample(*examplePath); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *examplePath)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, info)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, info)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the limiter
	limiter, err := initializeLimiter(context.Background(), cfg)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedLimiter(limiter)
		if err != nil {
			slog.Error("Failed to create instrumented limiter", "error", err)
			os.Exit(1)
		}
		limiter = instrumented
	}
	defer limiter.Close()

	serviceOpts := []quota.Option{}

	// Initialize violation storage when auditing is enabled
	if cfg.Storage.Audit.Enabled {
		store, err := initializeStorage(cfg)
		if err != nil {
			slog.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		serviceOpts = append(serviceOpts, quota.WithAudit(store, cfg.Storage.Audit))
	}

	quotaService := quota.NewService(limiter, cfg.Limiter.Policies, serviceOpts...)

	retentionCtx, stopRetention := context.WithCancel(context.Background())
	var retention sync.WaitGroup
	retention.Add(1)
	go func() {
		defer retention.Done()
		quotaService.RunRetention(retentionCtx, cfg.Storage.Audit.PurgeInterval)
	}()

	handlers := api.NewHandlers(quotaService, api.WithVersion(info.Version))

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	if cfg.Limiter.ProtectAPI {
		if policy, ok := cfg.Limiter.Policies.Lookup(ratelimit.PolicyAPI); ok {
			routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(limiter, ratelimit.PolicyAPI, policy)))
		} else {
			slog.Warn("API protection enabled but no api policy is configured")
		}
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"limiter", cfg.Limiter.Backend,
			"storage", cfg.Storage.Type,
			"policies", cfg.Limiter.Policies.Names(),
		)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	stopRetention()
	retention.Wait()

	slog.Info("Server shutdown complete")
}

// initializeLimiter creates the configured limiter backend
func initializeLimiter(ctx context.Context, cfg *models.Config) (ratelimit.Limiter, error) {
	switch cfg.Limiter.Backend {
	case models.LimiterBackendMemory:
		return ratelimit.NewMemoryLimiter(ratelimit.WithSweepInterval(cfg.Limiter.SweepInterval)), nil
	case models.LimiterBackendRedis:
		rc := cfg.Limiter.Redis
		client, err := ratelimit.DialRedis(ctx, rc.Addr, rc.Password, rc.DB, rc.PoolSize)
		if err != nil {
			return nil, err
		}
		return ratelimit.NewRedisLimiter(client, ratelimit.WithKeyPrefix(rc.KeyPrefix)), nil
	default:
		return nil, fmt.Errorf("unsupported limiter backend: %s", cfg.Limiter.Backend)
	}
}

// initializeStorage creates the violation store, instrumented when metrics are on
func initializeStorage(cfg *models.Config) (storage.Storage, error) {
	store, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		return nil, err
	}

	if !cfg.Metrics.Enabled {
		return store, nil
	}

	instrumented, err := observability.NewInstrumentedStorage(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create instrumented storage: %w", err)
	}
	return instrumented, nil
}
