package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/app"
	"github.com/shrimpsizemoose/taslim/internal/membership"
	"github.com/shrimpsizemoose/taslim/internal/models"
	"github.com/shrimpsizemoose/taslim/internal/ratelimit"
	"github.com/shrimpsizemoose/taslim/internal/signer"
	"github.com/shrimpsizemoose/taslim/internal/store"
	"github.com/shrimpsizemoose/taslim/internal/upload"
)

type Store interface {
	store.OTPStore
	store.Catalog
	Ping(ctx context.Context) error
}

type Options struct {
	BotUsername               string
	OTPTTL                    time.Duration
	MaxAttempts               int
	NameMatchThreshold        float64
	RequireSignedPayload      bool
	RecheckMembershipOnSubmit bool
	InitRule                  ratelimit.Rule
	VerifyRule                ratelimit.Rule
	MaxUploadBytes            int64
	HandlerTimeout            time.Duration
	AllowedOrigins            []string
	TrustProxyHeaders         bool
}

func OptionsFromConfig(cfg *app.Config) Options {
	return Options{
		BotUsername:               cfg.Telegram.BotUsername,
		OTPTTL:                    cfg.OTPTTL(),
		MaxAttempts:               cfg.OTP.MaxAttempts,
		NameMatchThreshold:        cfg.OTP.NameMatchThreshold,
		RequireSignedPayload:      cfg.OTP.RequireSignedPayload,
		RecheckMembershipOnSubmit: cfg.OTP.RecheckMembershipOnSubmit,
		InitRule:                  ratelimit.Rule{Max: cfg.RateLimit.InitPerIPPerMin, Window: time.Minute},
		VerifyRule:                ratelimit.Rule{Max: cfg.RateLimit.VerifyPerIPPerMin, Window: time.Minute},
		MaxUploadBytes:            cfg.Server.MaxUploadMB << 20,
		HandlerTimeout:            cfg.Server.HandlerTimeout.Duration,
		AllowedOrigins:            cfg.CORS.AllowedOrigins,
		TrustProxyHeaders:         cfg.Server.TrustedProxy,
	}
}

type Deps struct {
	Store   Store
	Gate    *upload.Gate
	Oracle  membership.Oracle
	Signer  *signer.Signer
	Counter ratelimit.Counter
}

type Handler struct {
	store   Store
	gate    *upload.Gate
	oracle  membership.Oracle
	signer  *signer.Signer
	counter ratelimit.Counter
	opts    Options
	now     func() time.Time
}

func NewHandler(deps Deps, opts Options) *Handler {
	return &Handler{
		store:   deps.Store,
		gate:    deps.Gate,
		oracle:  deps.Oracle,
		signer:  deps.Signer,
		counter: deps.Counter,
		opts:    opts,
		now:     time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("Failed to encode response: %v", err)
	}
}

func statusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeProjectNotFound, models.CodeOTPNotFound:
		return http.StatusNotFound
	case models.CodeRateLimited:
		return http.StatusTooManyRequests
	case models.CodeTelegramNotConfigured, models.CodeBotForbidden:
		return http.StatusConflict
	case models.CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case models.CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeError is the single place a Go error becomes an HTTP response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := models.AsError(err); ok {
		if e.Code == models.CodeRateLimited {
			if retry, ok := e.Details["retry_after"].(int); ok {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
			}
		}
		writeJSON(w, statusFor(e.Code), models.ErrorResponse{
			Error:        string(e.Code),
			Message:      models.MessageFor(e.Code),
			AttemptsLeft: e.AttemptsLeft,
			Details:      e.Details,
		})
		return
	}

	code := models.CodeInternalError
	if errors.Is(err, context.DeadlineExceeded) {
		code = models.CodeUpstreamTimeout
	}
	logger.Error.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
	writeJSON(w, statusFor(code), models.ErrorResponse{
		Error:   string(code),
		Message: models.MessageFor(code),
	})
}

func invalidInput(reason string) *models.Error {
	return models.NewError(models.CodeInvalidInput, reason).WithDetail("reason", reason)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return invalidInput("malformed JSON body")
	}
	return nil
}

func clientInfo(r *http.Request) models.ClientInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return models.ClientInfo{IP: ip, UserAgent: r.UserAgent()}
}

func (h *Handler) allow(ctx context.Context, key string, rule ratelimit.Rule) error {
	if h.counter == nil {
		return nil
	}
	ok, retry, err := ratelimit.Allow(ctx, h.counter, key, rule)
	if err != nil {
		// the counter is advisory; the OTP row carries the real limits
		logger.Error.Printf("Attempt store unavailable for %s: %v", key, err)
		return nil
	}
	if !ok {
		seconds := int(retry.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		return models.NewError(models.CodeRateLimited, "too many requests").WithDetail("retry_after", seconds)
	}
	return nil
}

func secondsUntil(deadline int64, now time.Time) int {
	left := deadline - now.Unix()
	if left < 0 {
		return 0
	}
	return int(left)
}
