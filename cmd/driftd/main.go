package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/driftd/internal/budget"
	"github.com/example/driftd/internal/config"
	"github.com/example/driftd/internal/consumer"
	"github.com/example/driftd/internal/engine"
	"github.com/example/driftd/internal/incident"
	"github.com/example/driftd/internal/logging"
	"github.com/example/driftd/internal/metrics"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/driftd.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("driftd %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	// Initialize structured logger
	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting driftd",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("addr", cfg.Server.Addr),
		zap.String("incident_store", cfg.Incidents.Store),
	)

	if err := run(cfg, *configPath); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Incident store
	var store incident.Store
	if cfg.Incidents.Store == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		defer client.Close()
		store = incident.NewRedisStore(client, "")
	} else {
		store = incident.NewMemoryStore()
	}
	incidents := incident.NewManager(store)

	// Budget evaluator with hot-reloadable config
	evaluator := budget.NewEvaluator(cfg.Budgets, budget.NewRegistry())
	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		logging.Warn("config hot reload disabled", zap.Error(err))
	} else {
		watcher.OnChange(func(next *config.Config) {
			evaluator.UpdateConfig(next.Budgets)
		})
		if err := watcher.Start(); err != nil {
			logging.Warn("config hot reload disabled", zap.Error(err))
		}
		defer watcher.Stop()
	}

	collector := metrics.NewCollector()

	opts := []engine.Option{
		engine.WithIncidents(incidents),
		engine.WithMetrics(collector),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithWorkspace(cfg.Engine.Workspace),
	}
	if cfg.ConsumerRegistry.URL != "" {
		registry := consumer.NewHTTPRegistry(cfg.ConsumerRegistry.URL, nil)
		opts = append(opts, engine.WithConsumers(consumer.NewAnalyzer(
			registry,
			cfg.ConsumerRegistry.CacheSize,
			cfg.ConsumerRegistry.CacheTTL,
			cfg.ConsumerRegistry.Timeout,
		)))
	}
	eng := engine.New(evaluator, opts...)

	// Incident retention janitor
	retention := time.Duration(cfg.Incidents.RetentionDays) * 24 * time.Hour
	go incidents.Janitor(ctx, cfg.Incidents.PruneInterval, retention)

	// Admin HTTP surface
	mux := http.NewServeMux()
	engine.NewHandler(engine.NewRegistry(), eng, collector).RegisterRoutes(mux)
	incident.NewHandler(incidents).RegisterRoutes(mux)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("admin API listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
