package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/results-sync/internal/cache"
	"github.com/SAP-F-2025/results-sync/internal/config"
	"github.com/SAP-F-2025/results-sync/internal/events"
	"github.com/SAP-F-2025/results-sync/internal/handlers"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
	"github.com/SAP-F-2025/results-sync/internal/repositories/casdoor"
	"github.com/SAP-F-2025/results-sync/internal/repositories/grading"
	"github.com/SAP-F-2025/results-sync/internal/repositories/postgres"
	"github.com/SAP-F-2025/results-sync/internal/services"
	"github.com/SAP-F-2025/results-sync/internal/utils"
	"github.com/SAP-F-2025/results-sync/internal/validator"
	"github.com/SAP-F-2025/results-sync/pkg"
)

const flagPurgeInterval = 15 * time.Minute

// flagPurger is a flag store without native key expiry
type flagPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	logger := utils.NewSlogLogger(slogLogger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis (if configured)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(rootCtx, cfg)
		if err != nil {
			if cfg.FlagStore == "redis" {
				log.Fatalf("Failed to initialize Redis: %v", err)
			}
			logger.Warn("Redis unavailable, identity cache disabled", "error", err)
		}
	}
	cacheManager := cache.NewCacheManager(redisClient)

	// Initialize database (postgres flag store only)
	var db *gorm.DB
	if cfg.FlagStore == "postgres" {
		db, err = pkg.InitDatabase(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
	}

	flags, err := newFlagStore(cfg, cacheManager, db)
	if err != nil {
		log.Fatalf("Failed to initialize flag store: %v", err)
	}
	logger.Info("Flag store ready", "backend", cfg.FlagStore, "ttl", cfg.FlagTTL)

	// Initialize validator
	validator := validator.New()

	// Event bus and durable outbox
	bus := events.NewBus(slogLogger, validator)
	outbox := events.NewOutbox(flags, bus, slogLogger)

	// Grading Service client
	gradingClient, err := grading.NewClient(cfg.Grading, slogLogger)
	if err != nil {
		log.Fatalf("Failed to create grading client: %v", err)
	}

	var resolver repositories.IdentityResolver = gradingClient
	if cfg.Casdoor.Enabled() {
		resolver = casdoor.NewIdentityCasdoor(cfg.Casdoor, cacheManager, slogLogger)
		logger.Info("Verifying tokens with Casdoor", "endpoint", cfg.Casdoor.Endpoint)
	}

	// Initialize services
	sessions, err := services.NewSessionManager(gradingClient, bus, outbox, flags, slogLogger, services.NewSessionManagerConfig(cfg.Sync))
	if err != nil {
		log.Fatalf("Failed to initialize session manager: %v", err)
	}

	if purger, ok := flags.(flagPurger); ok {
		go purgeExpiredFlags(rootCtx, purger, logger)
	}

	// Initialize handlers
	handlerManager := handlers.NewHandlerManager(sessions, resolver, validator, logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handlers.SetupMiddleware(router, logger)
	handlerManager.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-rootCtx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if err := sessions.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown sessions: %v", err)
	}

	if err := bus.Close(); err != nil {
		log.Printf("Failed to close event bus: %v", err)
	}

	if pg, ok := flags.(*postgres.FlagPostgreSQL); ok {
		if err := pg.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}

	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Server exited")
}

// newFlagStore selects the durable flag backend
func newFlagStore(cfg *config.Config, cm *cache.CacheManager, db *gorm.DB) (repositories.FlagRepository, error) {
	switch cfg.FlagStore {
	case "redis":
		store, err := cache.NewRedisFlagStore(cm.Flags, cfg.FlagTTL)
		if err != nil {
			return nil, fmt.Errorf("redis flag store: %w", err)
		}
		return store, nil
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres flag store needs a database")
		}
		return postgres.NewFlagPostgreSQL(db, cfg.FlagTTL), nil
	default:
		return cache.NewMemoryFlagStore(cfg.FlagTTL), nil
	}
}

func purgeExpiredFlags(ctx context.Context, store flagPurger, logger utils.Logger) {
	ticker := time.NewTicker(flagPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("Failed to purge expired flags", "error", err)
				continue
			}
			if purged > 0 {
				logger.Debug("Purged expired flags", "count", purged)
			}
		}
	}
}
