package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chainsweep/internal/api"
	"chainsweep/internal/bridge"
	"chainsweep/internal/bridge/across"
	"chainsweep/internal/config"
	"chainsweep/internal/store"
	"chainsweep/internal/tracker"
	"chainsweep/internal/worker"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Chainsweep Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.Strings("providers", cfg.Bridge.EnabledProviders),
		zap.Bool("redis", cfg.Redis.Addr != ""))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the backing store
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}

	// Build the provider registry in the configured order
	providers, err := buildProviders(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize bridge providers", zap.Error(err))
	}
	registry := bridge.NewRegistry(providers...)

	logger.Info("Bridge providers initialized", zap.Int("count", registry.Len()))

	aggregator := bridge.NewAggregator(registry, st, cfg.Bridge, logger)
	statusTracker := tracker.New(st, cfg.Tracker, logger)
	monitor := worker.NewMonitor(aggregator, statusTracker, cfg.Tracker.PollInterval, logger)

	// Initialize API handlers
	apiHandler := api.NewHandler(aggregator, statusTracker, monitor, logger)
	router := api.SetupRouter(apiHandler, logger)

	// Create HTTP server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Start the fill monitor
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(ctx)
	}()

	logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		logger.Fatal("HTTP server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	// Stop the monitor first so no status writes race the drain
	cancel()
	select {
	case <-monitorDone:
	case <-time.After(10 * time.Second):
		logger.Error("Monitor did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	logger.Info("Service stopped successfully")
}

// openStore connects to Redis when an address is configured and falls back to
// the in-memory store otherwise
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("No redis address configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}

	st, err := store.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	return st, nil
}

// buildProviders constructs a client for every enabled provider that has an
// implementation. Enabled names without one are logged and skipped so the
// registry keeps the configured order of the rest.
func buildProviders(cfg *config.Config, logger *zap.Logger) ([]bridge.Provider, error) {
	providers := make([]bridge.Provider, 0, len(cfg.Bridge.EnabledProviders))
	for _, name := range cfg.Bridge.EnabledProviders {
		switch strings.ToLower(name) {
		case "across":
			p, err := across.New(cfg.Bridge.AcrossEndpoint, logger)
			if err != nil {
				return nil, fmt.Errorf("across: %w", err)
			}
			providers = append(providers, p)
		default:
			logger.Warn("No implementation for enabled provider, skipping",
				zap.String("provider", name))
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable bridge providers among %v", cfg.Bridge.EnabledProviders)
	}
	return providers, nil
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
