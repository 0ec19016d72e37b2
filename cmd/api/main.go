package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/timecapsule/internal/api"
	"github.com/timmy/timecapsule/internal/config"
	"github.com/timmy/timecapsule/internal/logger"
	"github.com/timmy/timecapsule/internal/repository"
	"github.com/timmy/timecapsule/internal/service"
	"github.com/timmy/timecapsule/internal/storage"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	var missing *config.MissingSettingsError
	if err := cfg.Validate(); errors.As(err, &missing) {
		appLogger.WithField("missing", missing.Variables).Fatal("Required settings are not configured")
	} else if err != nil {
		appLogger.WithError(err).Fatal("Invalid configuration")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to get database handle")
	}
	defer sqlDB.Close()

	ledger := repository.NewGenerationRepository(db)

	ctx := context.Background()
	objectStorage, err := storage.NewStorage(&storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if ensurer, ok := objectStorage.(storage.BucketEnsurer); ok {
		if err := ensurer.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Warn("Could not ensure storage bucket, uploads may fail")
		}
	}

	generator, err := service.NewGeminiGenerator(&service.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		BaseURL: cfg.Gemini.BaseURL,
		Timeout: cfg.Gemini.Timeout,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize image generator")
	}

	dispatcher := service.NewDispatcher(
		service.NewOrchestrator(ledger, objectStorage, generator),
		service.DispatcherConfig{
			Workers:   cfg.Generation.Workers,
			QueueSize: cfg.Generation.QueueSize,
		},
	)
	dispatcher.Start()

	generationService := service.NewGenerationService(ledger, objectStorage, dispatcher, &service.GenerationConfig{
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
	})

	router := api.SetupRouter(generationService, sqlDB, &cfg.Server, appLogger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":    cfg.Server.Port,
			"mode":    cfg.Server.Mode,
			"model":   generator.GetModel(),
			"workers": cfg.Generation.Workers,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// Runs still in flight get the same grace period before their context is cancelled.
	if err := dispatcher.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		appLogger.WithError(err).Warn("Generation workers did not finish in time")
	}

	appLogger.Info("Server exited")
}
