package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robopong/slingbot/internal/adapters/http/api"
	"github.com/robopong/slingbot/internal/adapters/speech"
	app "github.com/robopong/slingbot/internal/app"
	"github.com/robopong/slingbot/internal/config"
	"github.com/robopong/slingbot/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 120 * time.Second // command dispatch waits for the arm
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	// Create and start the service with configuration options
	svc := app.New(
		app.WithLogger(log),
		app.WithWakeWord(cfg.WakeWord),
		app.WithActuatorBaseURL(cfg.ActuatorBaseURL),
		app.WithOperator(cfg.OperatorName, cfg.OperatorEmail),
		app.WithCallTimeout(time.Duration(cfg.ActuatorCallTimeoutMS)*time.Millisecond),
		app.WithRetryBackoff(time.Duration(cfg.RetryBackoffMS)*time.Millisecond),
		app.WithVisionBaseURL(cfg.VisionBaseURL),
		app.WithPollInterval(time.Duration(cfg.VisionPollIntervalMS)*time.Millisecond),
		app.WithMinConfidence(cfg.MinConfidence),
		app.WithMaxSnapshotAge(time.Duration(cfg.MaxSnapshotAgeMS)*time.Millisecond),
		app.WithCalibrationFile(cfg.CalibrationFile),
	)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	// HTTP mux and routes.
	mux := http.NewServeMux()

	auth := api.NoAuth
	if !cfg.AuthDisabled {
		auth = api.BearerAuth(cfg.AuthSecret)
	}

	// Operator API routes with the service dependency.
	apiServer := api.NewServer(svc)
	apiServer.Register(mux, auth)

	// Speech recognizer inlet.
	speech.NewFeed(svc).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Start the HTTP server
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			stop()
		}
	}()

	// Wait for a shutdown signal or an unrecoverable arm failure.
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down server...")
	case err := <-svc.Fatal():
		log.Error(ctx, "unrecoverable actuator failure", logger.Error(err))
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}
