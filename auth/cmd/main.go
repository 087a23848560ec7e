package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyjung/logindemo/auth/internal/app"
	"github.com/dyjung/logindemo/auth/internal/config"
	"github.com/dyjung/logindemo/auth/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoad(os.Getenv("CONFIG_PATH"))

	log := logger.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	application, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("failed to init app", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}
