package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ollama2api/internal/app"
	"ollama2api/internal/config"
	logpkg "ollama2api/internal/log"
	"ollama2api/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

func run() int {
	dotenvErr := godotenv.Load()

	logger := logpkg.CreateLogger()
	if appLog, ok := logger.(*logpkg.AppLogger); ok {
		gin.DefaultWriter = appLog.Writer()
		gin.DefaultErrorWriter = appLog.Writer()
		defer func() { _ = appLog.Close() }()
	}

	if dotenvErr != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadServerConfigFromEnv(logger)
	if err != nil {
		logger.Error("Failed to load server configuration: %v", err)
		return 1
	}

	storageInstance := storage.InitStorage(cfg.RedisURL, cfg.StatsFilePath, logger)
	defer func() { _ = storageInstance.Close() }()

	cfg.Storage = storageInstance
	cfg.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting ollama2api on %s (backend %s, mode %s)", cfg.ListenAddr(), cfg.OllamaURL, cfg.APIMode)
	if err := app.Run(ctx, cfg); err != nil {
		logger.Error("Fatal: %v", err)
		return 1
	}
	logger.Info("Shutdown complete")
	return 0
}
