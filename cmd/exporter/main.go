package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/app"
	"github.com/shrimpsizemoose/taslim/internal/export"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	var once = flag.Bool("once", false, "Export every configured sheet once and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()

	if len(service.Config.GSheet) == 0 {
		logger.Error.Fatalf("No [[gsheet]] sections configured")
	}

	exporter, err := export.NewGSheetExporter(ctx, service.Config.GSheet, service.Store)
	if err != nil {
		logger.Error.Fatalf("Failed to initialize Google Sheets exporter: %v", err)
	}

	if *once {
		if err := exporter.ExportAll(ctx); err != nil {
			logger.Error.Fatalf("Export failed: %v", err)
		}
		return
	}

	if err := exporter.Start(ctx); err != nil {
		logger.Error.Fatalf("Failed to schedule exports: %v", err)
	}
	defer exporter.Stop()

	logger.Info.Printf("Exporter running for %d sheets", len(service.Config.GSheet))
	<-ctx.Done()
	logger.Info.Println("Exporter stopped")
}
