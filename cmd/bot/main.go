package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/app"
	"github.com/shrimpsizemoose/taslim/internal/bot"
	"github.com/shrimpsizemoose/taslim/internal/jobs"
	"github.com/shrimpsizemoose/taslim/internal/membership"
	"github.com/shrimpsizemoose/taslim/internal/ratelimit"
)

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

	api, err := service.NewTelegramAPI()
	if err != nil {
		logger.Error.Fatalf("Failed to create bot: %v", err)
	}

	b := bot.New(api, service.Store, membership.NewTelegramOracle(api, cfg.Telegram.Timeout.Duration),
		service.Signer, service.Counter, bot.Options{
			StartRule: ratelimit.Rule{Max: cfg.RateLimit.BotStartPerUserPerMin, Window: time.Minute},
		})

	// bot_start windows live in this process when no redis is configured
	sweeper := jobs.NewSweeper(nil, nil, service.Counter, jobs.Options{Interval: cfg.Sweeper.Interval.Duration})
	if err := sweeper.Start(ctx); err != nil {
		logger.Error.Fatalf("Failed to start sweeper: %v", err)
	}
	defer sweeper.Stop()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Telegram.PollTimeout
	updates := api.GetUpdatesChan(u)

	logger.Info.Printf("Bot @%s initialized successfully", api.Self.UserName)
	if err := b.Run(ctx, updates); err != nil {
		logger.Error.Fatalf("Bot error: %v", err)
	}
	api.StopReceivingUpdates()
}
