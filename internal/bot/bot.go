package bot

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/membership"
	"github.com/shrimpsizemoose/taslim/internal/models"
	"github.com/shrimpsizemoose/taslim/internal/ratelimit"
	"github.com/shrimpsizemoose/taslim/internal/signer"
)

// Sender is the slice of *tgbotapi.BotAPI the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Store interface {
	GetOTP(ctx context.Context, id int64) (*models.OTP, error)
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetSection(ctx context.Context, id int64) (*models.Section, error)
	BindTelegram(ctx context.Context, otpID, userID, chatID int64, username string) (*models.OTP, error)
	BindStudentTelegram(ctx context.Context, studentID, userID int64, username string) error
	AppendLog(ctx context.Context, entry *models.OTPLogEntry) error
}

type Options struct {
	StartRule     ratelimit.Rule
	UpdateTimeout time.Duration
}

const defaultUpdateTimeout = 15 * time.Second

type Bot struct {
	api     Sender
	store   Store
	oracle  membership.Oracle
	signer  *signer.Signer
	counter ratelimit.Counter
	opts    Options
	now     func() time.Time
}

func New(api Sender, store Store, oracle membership.Oracle, sgn *signer.Signer, counter ratelimit.Counter, opts Options) *Bot {
	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = defaultUpdateTimeout
	}
	return &Bot{
		api:     api,
		store:   store,
		oracle:  oracle,
		signer:  sgn,
		counter: counter,
		opts:    opts,
		now:     time.Now,
	}
}

func (b *Bot) WithClock(now func() time.Time) *Bot {
	b.now = now
	return b
}

// Run handles updates until ctx is cancelled or the channel closes, then
// waits for in-flight messages.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer wg.Done()
				uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.UpdateTimeout)
				defer cancel()
				b.handleMessage(uctx, msg)
			}(update.Message)

		case <-ctx.Done():
			logger.Info.Println("Shutting down bot...")
			return nil
		}
	}
}
