package main

import (
	"context"
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

	"github.com/scriptgrade/evaluation-service/internal/config"
	"github.com/scriptgrade/evaluation-service/internal/events"
	"github.com/scriptgrade/evaluation-service/internal/grading"
	"github.com/scriptgrade/evaluation-service/internal/handlers"
	"github.com/scriptgrade/evaluation-service/internal/repositories/postgres"
	"github.com/scriptgrade/evaluation-service/internal/services"
	"github.com/scriptgrade/evaluation-service/internal/storage"
	"github.com/scriptgrade/evaluation-service/internal/utils"
	"github.com/scriptgrade/evaluation-service/internal/validator"
	"github.com/scriptgrade/evaluation-service/pkg"
)

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

	// Initialize database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis (if configured)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			log.Printf("Warning: Failed to initialize Redis: %v", err)
		}
	}

	// Initialize repositories
	repoManager := postgres.NewRepositoryManager(postgres.RepositoryConfig{
		DB:          db,
		RedisClient: redisClient,
	})
	if err := repoManager.Initialize(); err != nil {
		log.Fatalf("Failed to initialize repositories: %v", err)
	}
	repo := repoManager.GetRepository()

	// Initialize validator
	v := validator.New()

	// Initialize event publisher
	var publisher events.EventPublisher
	if cfg.KafkaEnabled {
		publisher, err = events.NewKafkaEventPublisher(cfg.KafkaBrokers, slogLogger)
		if err != nil {
			log.Fatalf("Failed to initialize Kafka publisher: %v", err)
		}
	} else {
		publisher = events.NewMockEventPublisher(slogLogger)
		slogLogger.Warn("Kafka not configured, events stay in process")
	}

	// Initialize grading backend
	grader, err := grading.NewGeminiGrader(context.Background(), grading.GeminiConfig{
		APIKey: cfg.Grader.APIKey,
		Model:  cfg.Grader.Model,
	})
	if err != nil {
		log.Fatalf("Failed to initialize grader: %v", err)
	}

	// Initialize sheet storage
	store := storage.NewSupabaseStore(storage.SupabaseConfig{
		Endpoint:   cfg.Storage.Endpoint,
		ServiceKey: cfg.Storage.ServiceKey,
		Bucket:     cfg.Storage.Bucket,
	})

	// Initialize services
	serviceManager := services.NewServiceManager(repo, slogLogger, v, publisher, grader, store, services.ServiceManagerConfig{
		SignedURLTTL: cfg.Storage.SignedURLTTL,
		RunWorkers:   true,
		Workers: services.WorkerPoolConfig{
			PoolSize:     cfg.Worker.PoolSize,
			PollInterval: cfg.Worker.PollInterval,
			MaxAttempts:  cfg.Grader.MaxAttempts,
			BaseBackoff:  cfg.Grader.BaseBackoff,
			ClaimTimeout: cfg.Worker.ClaimTimeout,
			ReapInterval: cfg.Worker.ReapInterval,
		},
	})
	if err := serviceManager.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Initialize handlers
	handlerManager := handlers.NewHandlerManager(serviceManager, v, logger, cfg.Casdoor, repo.Actor())

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handlers.SetupMiddleware(router, logger)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Shutdown services (drains the worker pool)
	if err := serviceManager.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown services: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Server exited")
}
