package models

import (
	"time"
)

type OTPStatus string

const (
	OTPStatusPending  OTPStatus = "pending"
	OTPStatusVerified OTPStatus = "verified"
	OTPStatusUsed     OTPStatus = "used"
	OTPStatusExpired  OTPStatus = "expired"
)

type OTPAction string

const (
	ActionInit          OTPAction = "init"
	ActionSent          OTPAction = "sent"
	ActionVerifyAttempt OTPAction = "verify_attempt"
	ActionVerifySuccess OTPAction = "verify_success"
	ActionVerifyFailed  OTPAction = "verify_failed"
	ActionExpired       OTPAction = "expired"
	ActionUsed          OTPAction = "used"
)

// OTP is one row of project_otp. Timestamps are unix seconds, the same way
// every other table in the schema stores them.
type OTP struct {
	ID                   int64     `db:"id" json:"otp_id"`
	ProjectID            int64     `db:"project_id" json:"project_id"`
	StudentID            *int64    `db:"student_id" json:"student_id,omitempty"`
	StudentName          string    `db:"student_name" json:"student_name"`
	Code                 string    `db:"code" json:"-"`
	Status               OTPStatus `db:"status" json:"status"`
	ExpiresAt            int64     `db:"expires_at" json:"expires_at"`
	Attempts             int       `db:"attempts" json:"attempts"`
	MaxAttempts          int       `db:"max_attempts" json:"max_attempts"`
	SubmitToken          *string   `db:"submit_token" json:"-"`
	SubmitTokenExpiresAt *int64    `db:"submit_token_expires_at" json:"submit_token_expires_at,omitempty"`
	SignedPayload        string    `db:"signed_payload" json:"-"`
	TelegramUserID       *int64    `db:"telegram_user_id" json:"telegram_user_id,omitempty"`
	TelegramChatID       *int64    `db:"telegram_chat_id" json:"telegram_chat_id,omitempty"`
	TelegramUsername     *string   `db:"telegram_username" json:"telegram_username,omitempty"`
	IP                   string    `db:"ip" json:"-"`
	CreatedAt            int64     `db:"created_at" json:"created_at"`
	UpdatedAt            int64     `db:"updated_at" json:"updated_at"`
	VerifiedAt           *int64    `db:"verified_at" json:"verified_at,omitempty"`
	UsedAt               *int64    `db:"used_at" json:"used_at,omitempty"`
}

// IsExpiredAt reports wall-clock expiry; expires_at == now counts as expired.
func (o *OTP) IsExpiredAt(now time.Time) bool {
	return now.Unix() >= o.ExpiresAt
}

// CanVerify mirrors the checks try_verify performs before comparing codes.
func (o *OTP) CanVerify(now time.Time) bool {
	return o.Status == OTPStatusPending &&
		!o.IsExpiredAt(now) &&
		o.Attempts < o.MaxAttempts
}

// IsActiveAt is the predicate behind "at most one active OTP per pair".
func (o *OTP) IsActiveAt(now time.Time) bool {
	return (o.Status == OTPStatusPending || o.Status == OTPStatusVerified) && !o.IsExpiredAt(now)
}

func (o *OTP) AttemptsLeft() int {
	left := o.MaxAttempts - o.Attempts
	if left < 0 {
		return 0
	}
	return left
}

// SubmitTokenTTL returns the remaining validity of the submit token, zero when
// the token is absent or already past its deadline.
func (o *OTP) SubmitTokenTTL(now time.Time) time.Duration {
	if o.SubmitTokenExpiresAt == nil {
		return 0
	}
	left := time.Unix(*o.SubmitTokenExpiresAt, 0).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

type OTPLogEntry struct {
	ID        int64     `db:"id" json:"id"`
	OTPID     int64     `db:"otp_id" json:"otp_id"`
	Action    OTPAction `db:"action" json:"action"`
	Details   string    `db:"details" json:"details"`
	IP        string    `db:"ip" json:"ip"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	CreatedAt int64     `db:"created_at" json:"created_at"`
}

// VerifyResult is what a successful try_verify hands back to the caller.
type VerifyResult struct {
	OTP         *OTP
	SubmitToken string
	ExpiresIn   time.Duration
}

// ClientInfo carries request provenance into the OTP log.
type ClientInfo struct {
	IP        string
	UserAgent string
}
