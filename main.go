package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glmproxy/glmproxy/internal/app"
	"github.com/glmproxy/glmproxy/internal/logger"
	"github.com/glmproxy/glmproxy/internal/util"
	"github.com/glmproxy/glmproxy/internal/version"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	} else {
		version.PrintVersionInfo(false, vlog)
	}

	lcfg := buildLoggerConfig()
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	application, err := app.New(startTime, styledLogger)
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to create application", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.FatalWithLogger(logInstance, "Server failed", "error", err)
		}
	case <-ctx.Done():
	}

	if err := application.Stop(context.Background()); err != nil {
		styledLogger.Error("Error during shutdown", "error", err)
	}

	styledLogger.Info("glmproxy has shutdown", "uptime", time.Since(startTime).Round(time.Second))
}

// buildLoggerConfig reads logging knobs straight from the environment so
// logs work even when the main config file fails to load.
func buildLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      util.GetEnvOrDefault("GLM_LOG_LEVEL", "info"),
		FileOutput: util.GetEnvBoolOrDefault("GLM_FILE_OUTPUT", true),
		LogDir:     util.GetEnvOrDefault("GLM_LOG_DIR", "./logs"),
		MaxSize:    util.GetEnvIntOrDefault("GLM_MAX_SIZE", 100),
		MaxBackups: util.GetEnvIntOrDefault("GLM_MAX_BACKUPS", 5),
		MaxAge:     util.GetEnvIntOrDefault("GLM_MAX_AGE", 30),
		Theme:      util.GetEnvOrDefault("GLM_THEME", "default"),
	}
}
