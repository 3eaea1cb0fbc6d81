package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"brisk/internal/app"
	"brisk/internal/config"
	"brisk/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env failed: %v", err)
	}
	os.Exit(run(config.PathFromEnv()))
}

// run returns the process exit code. Every return path after the log file
// is opened closes it, so queued lines reach disk.
func run(cfgPath string) int {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("load config failed: %v", err)
		return 1
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Printf("open log file failed: %v", err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	logger.Infof("✓ config loaded (env=%s, quote=%s, paper=%t)", cfg.App.Env, cfg.Market.QuoteAsset, cfg.Trading.Paper)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(cfg, app.WithConfigPath(cfgPath))
	if err != nil {
		logger.Errorf("init app failed: %v", err)
		return 1
	}
	if err := a.Run(ctx); err != nil {
		logger.Errorf("run failed: %v", err)
		return 1
	}
	logger.Infof("shutdown complete")
	return 0
}

// setupLogOutput tees the logger to stdout and an async file writer.
func setupLogOutput(path string) (*logger.AsyncWriter, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	file, err := logger.OpenAsyncFile(trimmed, 0)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
