package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Aliisa-yt/twitchbot/internal/app"
	"github.com/Aliisa-yt/twitchbot/internal/config"
)

func main() {
	// A .env next to the binary is optional; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer logger.Sync()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	res, err := app.Build(runCtx, logger, cfg)
	if err != nil {
		logger.Fatal("build failed", zap.Error(err))
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("cleanup finished with errors", zap.Error(err))
		}
	}()

	res.Pipeline.Start()

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: res.API.Router(),
	}
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful http shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	// The line speaking right now finishes; everything still queued is
	// dropped.
	res.Pipeline.Shutdown()

	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_LOG_LEVEL %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
