// Package membership answers whether a Telegram user is currently in a
// section's group.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"
)

type Status string

const (
	StatusActive       Status = "active"
	StatusLeft         Status = "left"
	StatusKicked       Status = "kicked"
	StatusNotFound     Status = "not_found"
	StatusBotForbidden Status = "unknown_bot_forbidden"
)

// Oracle is the only source of truth for group membership.
type Oracle interface {
	IsMember(ctx context.Context, chatID, userID int64) (Status, error)
}

// ChatMemberGetter is the slice of *tgbotapi.BotAPI the oracle needs.
type ChatMemberGetter interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

const (
	DefaultTimeout = 5 * time.Second
	retryBackoff   = 250 * time.Millisecond
)

type TelegramOracle struct {
	api     ChatMemberGetter
	timeout time.Duration
	backoff time.Duration
}

func NewTelegramOracle(api ChatMemberGetter, timeout time.Duration) *TelegramOracle {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TelegramOracle{api: api, timeout: timeout, backoff: retryBackoff}
}

// IsMember never reports active unless Telegram said so. Network failures are
// retried once; Telegram-level errors are classified without retrying.
func (o *TelegramOracle) IsMember(ctx context.Context, chatID, userID int64) (Status, error) {
	chatID = NormalizeChatID(chatID)

	member, err := o.call(ctx, chatID, userID)
	if err != nil && isNetworkError(err) {
		logger.Debug.Printf("getChatMember chat=%d user=%d failed, retrying: %v", chatID, userID, err)
		select {
		case <-time.After(o.backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		member, err = o.call(ctx, chatID, userID)
	}
	if err != nil {
		if status, ok := classifyAPIError(err); ok {
			return status, nil
		}
		return "", fmt.Errorf("failed to check membership: %w", err)
	}

	return FromChatMember(member), nil
}

func (o *TelegramOracle) call(ctx context.Context, chatID, userID int64) (tgbotapi.ChatMember, error) {
	type result struct {
		member tgbotapi.ChatMember
		err    error
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		m, err := o.api.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
		})
		done <- result{m, err}
	}()

	select {
	case r := <-done:
		return r.member, r.err
	case <-ctx.Done():
		return tgbotapi.ChatMember{}, ctx.Err()
	}
}

// FromChatMember maps a Bot API chat member status onto the oracle's answer.
// A restricted user counts only while still a member.
func FromChatMember(m tgbotapi.ChatMember) Status {
	switch m.Status {
	case "creator", "administrator", "member":
		return StatusActive
	case "restricted":
		if m.IsMember {
			return StatusActive
		}
		return StatusLeft
	case "left":
		return StatusLeft
	case "kicked":
		return StatusKicked
	default:
		return StatusNotFound
	}
}

func classifyAPIError(err error) (Status, bool) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return "", false
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == 403 || strings.Contains(msg, "forbidden"):
		return StatusBotForbidden, true
	case strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "user not found"),
		strings.Contains(msg, "participant_id_invalid"),
		strings.Contains(msg, "member not found"):
		return StatusNotFound, true
	}
	return "", false
}

func isNetworkError(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

const supergroupOffset = -1_000_000_000_000

// NormalizeChatID converts a positive legacy id into the -100 prefixed
// supergroup form. Already negative ids are returned as is.
func NormalizeChatID(id int64) int64 {
	if id > 0 {
		return supergroupOffset - id
	}
	return id
}
