package models

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidInput          ErrorCode = "invalid_input"
	CodeProjectNotFound       ErrorCode = "project_not_found"
	CodeStudentNotFound       ErrorCode = "student_not_found"
	CodeTelegramNotConfigured ErrorCode = "telegram_not_configured"
	CodeAlreadyActiveOTP      ErrorCode = "already_active_otp"
	CodeOTPNotFound           ErrorCode = "otp_not_found"
	CodeOTPExpired            ErrorCode = "otp_expired"
	CodeOTPAlreadyUsed        ErrorCode = "otp_already_used"
	CodeCodeMismatch          ErrorCode = "code_mismatch"
	CodeTokenInvalid          ErrorCode = "token_invalid"
	CodeFileTooLarge          ErrorCode = "file_too_large"
	CodeFileTypeForbidden     ErrorCode = "file_type_forbidden"
	CodeFileNameUnsafe        ErrorCode = "file_name_unsafe"
	CodeDeadlineExpired       ErrorCode = "deadline_expired"
	CodeBotForbidden          ErrorCode = "bot_forbidden"
	CodeRateLimited           ErrorCode = "rate_limited"
	CodeUpstreamTimeout       ErrorCode = "upstream_timeout"
	CodeInternalError         ErrorCode = "internal_error"
)

// Error is the tagged result every component returns for an expected
// failure. Infrastructure failures stay plain wrapped errors.
type Error struct {
	Code         ErrorCode
	Message      string
	AttemptsLeft *int
	Details      map[string]interface{}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so errors.Is(err, ErrOTPExpired) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrProjectNotFound       = NewError(CodeProjectNotFound, "")
	ErrStudentNotFound       = NewError(CodeStudentNotFound, "")
	ErrTelegramNotConfigured = NewError(CodeTelegramNotConfigured, "")
	ErrOTPNotFound           = NewError(CodeOTPNotFound, "")
	ErrOTPExpired            = NewError(CodeOTPExpired, "")
	ErrOTPAlreadyUsed        = NewError(CodeOTPAlreadyUsed, "")
	ErrCodeMismatch          = NewError(CodeCodeMismatch, "")
	ErrTokenInvalid          = NewError(CodeTokenInvalid, "")
	ErrDeadlineExpired       = NewError(CodeDeadlineExpired, "")
	ErrBotForbidden          = NewError(CodeBotForbidden, "")
	ErrRateLimited           = NewError(CodeRateLimited, "")
)

func CodeMismatch(attemptsLeft int) *Error {
	e := NewError(CodeCodeMismatch, "wrong code")
	e.AttemptsLeft = &attemptsLeft
	return e
}

// AsError extracts the domain error from a wrapped chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
