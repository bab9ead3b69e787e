// Package ratelimit keeps soft per-identifier attempt counters with a sliding
// TTL. Counters are best effort: wiping them never breaks correctness, the
// OTP record's own attempts column is the authoritative brute-force guard.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Counter is implemented by the in-process map and by Redis.
type Counter interface {
	// Record increments id, resets its TTL to window and returns the new count.
	Record(ctx context.Context, id string, window time.Duration) (int64, error)
	Count(ctx context.Context, id string) (int64, error)
	// TTL is how long until id resets; zero when id is absent.
	TTL(ctx context.Context, id string) (time.Duration, error)
	Clear(ctx context.Context, id string) error
	Close() error
}

func IsLocked(ctx context.Context, c Counter, id string, max int64) (bool, error) {
	n, err := c.Count(ctx, id)
	if err != nil {
		return false, err
	}
	return n >= max, nil
}

// Key namespaces used by the API and the bot.
func InitKey(ip string) string {
	return fmt.Sprintf("otp_init:%s", ip)
}

func VerifyKey(ip string) string {
	return fmt.Sprintf("otp_verify_ip:%s", ip)
}

func VerifyOTPKey(otpID int64) string {
	return fmt.Sprintf("otp_verify:%d", otpID)
}

func BotStartKey(tgUserID int64) string {
	return fmt.Sprintf("bot_start:%d", tgUserID)
}

// Rule is a max count per sliding window.
type Rule struct {
	Max    int64
	Window time.Duration
}

// Allow records one hit for id and reports whether it is still within the
// rule, plus the remaining wait when it is not.
func Allow(ctx context.Context, c Counter, id string, rule Rule) (bool, time.Duration, error) {
	if rule.Max <= 0 {
		return true, 0, nil
	}
	n, err := c.Record(ctx, id, rule.Window)
	if err != nil {
		return false, 0, err
	}
	if n <= rule.Max {
		return true, 0, nil
	}
	ttl, err := c.TTL(ctx, id)
	if err != nil {
		return false, rule.Window, nil
	}
	return false, ttl, nil
}
