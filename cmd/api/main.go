package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"dev/bravebird/frontend-verify/pkg/api"
	"dev/bravebird/frontend-verify/pkg/database"
	"dev/bravebird/frontend-verify/pkg/logging"
	"dev/bravebird/frontend-verify/pkg/models"
)

func main() {
	logger, err := logging.New(getEnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Frontend Verification API Server")

	// Get configuration from environment
	port := getEnvOrDefault("PORT", "8080")
	dbDriver := getEnvOrDefault("DB_DRIVER", database.DriverMySQL)
	dbDSN := getEnvOrDefault("DB_DSN", "verify:verify@tcp(localhost:3306)/verify")
	temporalHost := getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	screenshotDir := getEnvOrDefault("SCREENSHOT_DIR", "/tmp/screenshots")

	plan := models.DefaultPlan()
	if path := os.Getenv("PLAN_FILE"); path != "" {
		plan, err = models.LoadPlan(path)
		if err != nil {
			logger.Fatal("Failed to load plan", zap.String("path", path), zap.Error(err))
		}
	}

	// Initialize database; the server still starts runs without one
	var store api.Store
	db, err := database.New(dbDriver, dbDSN)
	if err == nil {
		err = db.Migrate(context.Background())
		if err != nil {
			db.Close()
		}
	}
	if err != nil {
		logger.Warn("Running without database persistence", zap.String("driver", dbDriver), zap.Error(err))
	} else {
		defer db.Close()
		store = db
	}

	// Initialize Temporal client
	temporalClient, err := client.Dial(client.Options{
		HostPort: temporalHost,
		Logger:   logging.NewTemporalLogger(logger),
	})
	if err != nil {
		logger.Fatal("Failed to create Temporal client", zap.Error(err))
	}
	defer temporalClient.Close()

	handlers := api.NewHandlers(store, temporalClient, plan, screenshotDir, logger)
	defer handlers.Close()

	if _, err := handlers.ResumeTracking(context.Background()); err != nil {
		logger.Warn("Failed to resume unfinished runs", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("API server listening", zap.String("port", port), zap.String("plan", plan.Name))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
