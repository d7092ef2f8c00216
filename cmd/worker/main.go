package main

import (
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"dev/bravebird/frontend-verify/pkg/logging"
	"dev/bravebird/frontend-verify/pkg/temporal/activities"
	"dev/bravebird/frontend-verify/pkg/temporal/workflows"
)

func main() {
	logger, err := logging.New(getEnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	temporalHost := getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort: temporalHost,
		Logger:   logging.NewTemporalLogger(logger),
	})
	if err != nil {
		logger.Fatal("Failed to create Temporal client", zap.Error(err))
	}
	defer c.Close()

	screenshotDir := getEnvOrDefault("SCREENSHOT_DIR", "/tmp/screenshots")
	if err := os.MkdirAll(screenshotDir, 0755); err != nil {
		logger.Fatal("Failed to create screenshot dir", zap.Error(err))
	}

	acts := activities.NewActivities(screenshotDir, os.Getenv("CHROME_BIN"))
	defer acts.Pool.CloseAll()

	// Every run owns a browser, so keep activity concurrency modest
	w := worker.New(c, workflows.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     5,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(workflows.VerificationWorkflow)
	w.RegisterActivity(acts)

	logger.Info("Starting Temporal worker",
		zap.String("taskQueue", workflows.TaskQueue),
		zap.String("temporalHost", temporalHost),
		zap.String("screenshotDir", screenshotDir),
	)

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("Worker failed", zap.Error(err))
	}
	logger.Info("Worker stopped", zap.Int("openSessions", acts.Pool.Len()))
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
