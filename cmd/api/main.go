package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/api"
	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/internal/engine"
	"github.com/territorial-engagement/backend/internal/metrics"
	"github.com/territorial-engagement/backend/pkg/config"
	appLogger "github.com/territorial-engagement/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(apperr.ExitCode(err))
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting territorial activity analytics API", zap.String("environment", cfg.Environment))

	metrics.Init()

	ctx := context.Background()
	eng, err := engine.New(ctx, cfg)
	if err != nil {
		appLogger.Error("Failed to initialize engine", zap.Error(err))
		appLogger.Sync()
		os.Exit(apperr.ExitCode(err))
	}
	defer eng.Close()

	app, stop := api.NewApp(cfg, eng)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.Shutdown(); err != nil {
		appLogger.Warn("Server shutdown returned an error", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
