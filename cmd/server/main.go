package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/app"
	"github.com/shrimpsizemoose/taslim/internal/handlers"
	"github.com/shrimpsizemoose/taslim/internal/jobs"
	"github.com/shrimpsizemoose/taslim/internal/membership"
	"github.com/shrimpsizemoose/taslim/internal/upload"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()
	cfg := service.Config

	blobs, err := service.NewBlobStore()
	if err != nil {
		logger.Error.Fatalf("Failed to init blob storage: %v", err)
	}

	api, err := service.NewTelegramAPI()
	if err != nil {
		logger.Error.Fatalf("Failed to init telegram API: %v", err)
	}
	oracle := membership.NewTelegramOracle(api, cfg.Telegram.Timeout.Duration)

	h := handlers.NewHandler(handlers.Deps{
		Store:   service.Store,
		Gate:    upload.NewGate(service.Store, blobs),
		Oracle:  oracle,
		Signer:  service.Signer,
		Counter: service.Counter,
	}, handlers.OptionsFromConfig(cfg))

	sweeper := jobs.NewSweeper(service.Store, blobs, service.Counter, jobs.Options{
		Interval:            cfg.Sweeper.Interval.Duration,
		OTPRetention:        cfg.OTPRetention(),
		SubmissionRetention: time.Duration(cfg.Storage.SubmissionRetentionDays) * 24 * time.Hour,
	})
	if err := sweeper.Start(ctx); err != nil {
		logger.Error.Fatalf("Failed to start sweeper: %v", err)
	}
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           handlers.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info.Printf("Starting taslim server on %s", cfg.Server.Port)
		if cfg.Server.APIBaseURL != "" {
			logger.Debug.Printf("Public API base URL: %s", cfg.Server.APIBaseURL)
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error.Fatalf("Taslim server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("Graceful shutdown failed: %v", err)
	}
}
