package app

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/ratelimit"
	"github.com/shrimpsizemoose/taslim/internal/signer"
	"github.com/shrimpsizemoose/taslim/internal/store"
	"github.com/shrimpsizemoose/taslim/internal/upload"
)

// Service holds the long-lived dependencies every process shares. It is built
// once at startup; nothing reads configuration after that.
type Service struct {
	Config  *Config
	Store   store.Store
	Signer  *signer.Signer
	Counter ratelimit.Counter
}

func NewService(configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	sgn, err := signer.New(config.Signer.Secret, config.Signer.PreviousSecrets...)
	if err != nil {
		return nil, fmt.Errorf("failed to init signer: %w", err)
	}

	counter, err := NewCounter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to init attempt store: %w", err)
	}

	st, err := NewStore(config)
	if err != nil {
		counter.Close()
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	return &Service{
		Config:  config,
		Store:   st,
		Signer:  sgn,
		Counter: counter,
	}, nil
}

// NewCounter picks Redis when configured, otherwise a per-process map. The
// in-memory backend is best-effort: limits are per instance.
func NewCounter(config *Config) (ratelimit.Counter, error) {
	if config.Redis.URL == "" {
		logger.Info.Println("Using in-memory attempt store")
		return ratelimit.NewMemoryCounter(), nil
	}
	client, err := ratelimit.NewRedisClient(context.Background(), config.Redis.URL)
	if err != nil {
		return nil, err
	}
	logger.Info.Println("Using redis attempt store")
	return ratelimit.NewRedisCounter(client), nil
}

func (s *Service) NewBlobStore() (upload.BlobStore, error) {
	switch s.Config.Storage.Provider {
	case "minio":
		return upload.NewMinioStore(upload.MinioConfig{
			Endpoint:  s.Config.Minio.Endpoint,
			AccessKey: s.Config.Minio.AccessKey,
			SecretKey: s.Config.Minio.SecretKey,
			Bucket:    s.Config.Minio.Bucket,
			Region:    s.Config.Minio.Region,
			UseSSL:    s.Config.Minio.UseSSL,
		})
	default:
		return upload.NewLocalStore(s.Config.Storage.Root)
	}
}

// NewTelegramAPI builds a Bot API client whose HTTP timeout outlasts the
// configured long poll. It calls getMe once to check the token.
func (s *Service) NewTelegramAPI() (*tgbotapi.BotAPI, error) {
	return s.newTelegramAPI(tgbotapi.APIEndpoint)
}

func (s *Service) newTelegramAPI(endpoint string) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: s.Config.TelegramClientTimeout()}
	api, err := tgbotapi.NewBotAPIWithClient(s.Config.Telegram.BotToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	if api.Self.UserName != "" && api.Self.UserName != s.Config.Telegram.BotUsername {
		logger.Error.Printf("telegram.bot_username is %q but the token belongs to %q", s.Config.Telegram.BotUsername, api.Self.UserName)
	}
	return api, nil
}

func (s *Service) Close() error {
	var errs []error

	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := s.Counter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("attempt store: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors while closing: %v", errs)
	}
	return nil
}
