/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the perk engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load perks.yaml / .env / PERK_* config
  2. Initialize SQLite store
  3. Seed the catalog (catalog file, or the demo catalog on an empty store)
  4. Pick the per-perk locker (Redis when configured, in-process otherwise)
  5. Pick the reminder sink (Kafka when configured, log otherwise)
  6. Create service, API handler and router
  7. Start the reminder dispatcher and the HTTP server
  8. Graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: perks.yaml, optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reminder dispatcher
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Kafka writer, Redis client and database
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/perks.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Redis locks and Kafka reminders
  PERK_REDIS_ADDR=localhost:6379 PERK_KAFKA_BROKERS=localhost:9092 ./server

SEE ALSO:
  - config/config.go: Configuration and environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Reminder dispatcher
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/perk-engine/api"
	"github.com/warp/perk-engine/config"
	"github.com/warp/perk-engine/factory"
	"github.com/warp/perk-engine/lock/redislock"
	"github.com/warp/perk-engine/notify"
	"github.com/warp/perk-engine/perks"
	"github.com/warp/perk-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", config.DefaultFile, "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := cfg.NewLogger()
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("Invalid timezone: %v", err)
	}

	// Initialize store
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			logger.Fatalf("Failed to create data directory: %v", err)
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Locker and sink
	var locker perks.Locker
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatalf("Failed to reach redis at %s: %v", cfg.Redis.Addr, err)
		}

		rl := redislock.New(client, "perks:lock:")
		rl.TTL = cfg.Redis.LockTTL
		rl.Logger = logger
		locker = rl
		logger.WithField("addr", cfg.Redis.Addr).Info("using redis perk locks")
	}

	var sink notify.Sink = notify.NewLogSink(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		ks := notify.NewKafkaSink(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer ks.Close()
		sink = ks
		logger.WithFields(logrus.Fields{"brokers": cfg.Kafka.Brokers, "topic": cfg.Kafka.Topic}).Info("publishing reminders to kafka")
	}

	// Service
	svc := perks.NewService(store, perks.Options{
		Locker:     locker,
		UndoWindow: cfg.UndoWindow,
		Reminders:  cfg.ReminderConfig(),
		Now:        func() time.Time { return time.Now().In(loc) },
		Logger:     logger,
	})

	if err := seedCatalog(context.Background(), svc, cfg.CatalogPath); err != nil {
		logger.Fatalf("Failed to seed catalog: %v", err)
	}

	// Initialize handler and router
	metrics := api.NewMetrics()
	handler := api.NewHandler(svc, store, metrics, logger)
	router := api.NewRouter(handler)

	dispatcher := api.NewReminderDispatcher(svc, store, store, sink, metrics)
	dispatcher.CheckInterval = cfg.SchedulerInterval
	dispatcher.Logger = logger
	dispatcher.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Server starting on http://localhost:%d", cfg.Port)
		logger.Infof("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	dispatcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

// seedCatalog imports the configured catalog file, or the demo catalog when
// no file is configured and the store has no perks yet.
func seedCatalog(ctx context.Context, svc *perks.Service, path string) error {
	if path != "" {
		defs, err := factory.LoadCatalogFile(path)
		if err != nil {
			return err
		}
		return svc.ImportCatalog(ctx, defs)
	}

	existing, err := svc.Catalog(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return svc.ImportCatalog(ctx, perks.DemoCatalog())
}
