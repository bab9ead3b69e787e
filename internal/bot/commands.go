package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/membership"
	"github.com/shrimpsizemoose/taslim/internal/metrics"
	"github.com/shrimpsizemoose/taslim/internal/models"
	"github.com/shrimpsizemoose/taslim/internal/ratelimit"
)

const (
	greeting = `مرحباً 👋
هذا البوت يرسل رمز التحقق الخاص بتسليم المشاريع.

افتح رابط البوت من صفحة التسليم ليصلك الرمز هنا.`

	invalidLink = "الرابط غير صالح. يرجى فتح رابط البوت من صفحة التسليم مرة أخرى."

	alreadyVerified = "تم التحقق من هذا الطلب بالفعل. عد إلى صفحة التسليم لرفع ملفك."

	codeTpl = `رمز التحقق لمشروع <b>%s</b>:

<code>%s</code>

الرمز صالح لمدة %d دقيقة. لا تشارك هذا الرمز مع أي شخص.`

	joinTpl = `لا يمكن إرسال الرمز لأنك لست عضواً في مجموعة الشعبة <b>%s</b>.

انضم إلى المجموعة من الرابط التالي ثم افتح رابط البوت من صفحة التسليم مرة أخرى:
%s`
)

var startPattern = regexp.MustCompile(`^/start(?:\s+(\S+))?$`)

type commandHandler func(context.Context, *tgbotapi.Message) error

func (b *Bot) routeCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"start": b.handleStart,
		"help":  b.handleHelp,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.From == nil {
		return
	}
	// codes are only ever handed out in private chats
	if !msg.Chat.IsPrivate() {
		return
	}

	if !msg.IsCommand() {
		b.sendHTML(msg.Chat.ID, greeting)
		return
	}

	handler, ok := b.routeCommands(msg.Command())
	if !ok {
		b.sendHTML(msg.Chat.ID, greeting)
		return
	}

	if err := handler(ctx, msg); err != nil {
		logger.Error.Printf("Command /%s from %d failed: %v", msg.Command(), msg.From.ID, err)
		b.sendHTML(msg.Chat.ID, escape(models.MessageFor(codeOf(err))))
	}
}

func (b *Bot) handleHelp(_ context.Context, msg *tgbotapi.Message) error {
	return b.sendHTML(msg.Chat.ID, greeting)
}

// handleStart delivers the OTP code for a signed deep link, but only to a
// current member of the section group.
func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	m := startPattern.FindStringSubmatch(msg.Text)
	if m == nil || m[1] == "" {
		return b.sendHTML(msg.Chat.ID, greeting)
	}
	from := msg.From

	if b.counter != nil {
		ok, _, err := ratelimit.Allow(ctx, b.counter, ratelimit.BotStartKey(from.ID), b.opts.StartRule)
		if err != nil {
			logger.Error.Printf("Attempt store unavailable for bot user %d: %v", from.ID, err)
		} else if !ok {
			return models.ErrRateLimited
		}
	}

	otpID, err := b.signer.VerifyID(m[1])
	if err != nil {
		logger.Info.Printf("Rejected start parameter from %d: %v", from.ID, err)
		return b.sendHTML(msg.Chat.ID, invalidLink)
	}

	otp, err := b.store.GetOTP(ctx, otpID)
	if err != nil {
		return err
	}

	now := b.now()
	switch {
	case otp.Status == models.OTPStatusUsed:
		return models.ErrOTPAlreadyUsed
	case otp.Status == models.OTPStatusExpired || otp.IsExpiredAt(now):
		return models.ErrOTPExpired
	case otp.Status == models.OTPStatusVerified:
		return b.sendHTML(msg.Chat.ID, alreadyVerified)
	}

	project, err := b.store.GetProject(ctx, otp.ProjectID)
	if err != nil {
		return err
	}
	section, err := b.store.GetSection(ctx, project.SectionID)
	if err != nil {
		return err
	}
	if section.TelegramChatID == nil {
		return models.ErrTelegramNotConfigured
	}
	chatID := membership.NormalizeChatID(*section.TelegramChatID)

	status, err := b.oracle.IsMember(ctx, chatID, from.ID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.NewError(models.CodeUpstreamTimeout, err.Error())
		}
		return err
	}
	metrics.MembershipChecksTotal.WithLabelValues(string(status)).Inc()

	if status != membership.StatusActive {
		return b.refuse(ctx, msg, otp, section, status)
	}
	return b.deliver(ctx, msg, otp, project, chatID)
}

func (b *Bot) deliver(ctx context.Context, msg *tgbotapi.Message, otp *models.OTP, project *models.Project, chatID int64) error {
	from := msg.From

	otp, err := b.store.BindTelegram(ctx, otp.ID, from.ID, chatID, from.UserName)
	if err != nil {
		return err
	}
	if otp.StudentID != nil {
		if err := b.store.BindStudentTelegram(ctx, *otp.StudentID, from.ID, from.UserName); err != nil {
			logger.Error.Printf("Failed to bind roster entry %d to telegram user %d: %v", *otp.StudentID, from.ID, err)
		}
	}

	minutes := int(math.Ceil(float64(otp.ExpiresAt-b.now().Unix()) / 60))
	if minutes < 1 {
		minutes = 1
	}
	text := fmt.Sprintf(codeTpl, escape(project.Title), otp.Code, minutes)
	if err := b.sendHTML(msg.Chat.ID, text); err != nil {
		return fmt.Errorf("failed to send code: %w", err)
	}

	b.logSent(ctx, otp.ID, fmt.Sprintf("delivered to telegram user %d", from.ID))
	metrics.OTPEventsTotal.WithLabelValues(string(models.ActionSent)).Inc()
	logger.Info.Printf("OTP %d code delivered to telegram user %d", otp.ID, from.ID)
	return nil
}

// refuse never reveals the code. It points the user at the group instead and
// records why nothing was delivered.
func (b *Bot) refuse(ctx context.Context, msg *tgbotapi.Message, otp *models.OTP, section *models.Section, status membership.Status) error {
	from := msg.From
	b.logSent(ctx, otp.ID, fmt.Sprintf("not delivered to telegram user %d: %s", from.ID, status))
	metrics.OTPEventsTotal.WithLabelValues("not_delivered").Inc()
	logger.Info.Printf("OTP %d not delivered to telegram user %d: %s", otp.ID, from.ID, status)

	if status == membership.StatusBotForbidden {
		return models.ErrBotForbidden
	}
	if section.InviteLink == "" {
		return b.sendHTML(msg.Chat.ID, escape(models.MessageFor(models.CodeTelegramNotConfigured)))
	}
	return b.sendHTML(msg.Chat.ID, fmt.Sprintf(joinTpl, escape(section.Name), escape(section.InviteLink)))
}

func (b *Bot) logSent(ctx context.Context, otpID int64, details string) {
	err := b.store.AppendLog(ctx, &models.OTPLogEntry{
		OTPID:   otpID,
		Action:  models.ActionSent,
		Details: details,
		IP:      "telegram",
	})
	if err != nil {
		logger.Error.Printf("Failed to log delivery for OTP %d: %v", otpID, err)
	}
}

func (b *Bot) sendHTML(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := b.api.Send(msg)
	if err != nil {
		logger.Error.Printf("Failed to send message to %d: %v", chatID, err)
	}
	return err
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}

func codeOf(err error) models.ErrorCode {
	if e, ok := models.AsError(err); ok {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.CodeUpstreamTimeout
	}
	return models.CodeInternalError
}
