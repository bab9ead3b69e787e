package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/metrics"
	"github.com/shrimpsizemoose/taslim/internal/models"
	"github.com/shrimpsizemoose/taslim/internal/names"
	"github.com/shrimpsizemoose/taslim/internal/ratelimit"
	"github.com/shrimpsizemoose/taslim/internal/store"
)

// ProjectPayload is the data a signed frontend link carries for a project.
func ProjectPayload(projectID int64) string {
	return fmt.Sprintf("project:%d", projectID)
}

func (h *Handler) Deeplink(otpID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", h.opts.BotUsername, url.QueryEscape(h.signer.SignID(otpID)))
}

func (h *Handler) checkPayload(req *models.OTPInitRequest) error {
	if !h.opts.RequireSignedPayload {
		return nil
	}
	data, err := h.signer.VerifyWithExpiry(req.Payload)
	if err != nil {
		logger.Debug.Printf("Rejected payload for project %d: %v", req.ProjectID, err)
		return invalidInput("payload signature is invalid")
	}
	if string(data) != ProjectPayload(req.ProjectID) {
		return invalidInput("payload does not belong to this project")
	}
	return nil
}

// resolveStudent loads the project, its section and the roster entry whose
// normalized name equals the submitted one.
func (h *Handler) resolveStudent(ctx context.Context, projectID int64, studentName string) (*models.Project, *models.Section, *names.Match, error) {
	project, err := h.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !project.IsActive {
		return nil, nil, nil, models.ErrProjectNotFound
	}

	section, err := h.store.GetSection(ctx, project.SectionID)
	if err != nil {
		return nil, nil, nil, err
	}

	roster, err := h.store.ListRoster(ctx, section.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	matches := names.FindMatches(studentName, roster, h.opts.NameMatchThreshold)
	match, ok := names.ExactMatch(matches)
	if !ok {
		var suggestions []string
		if len(matches) > 0 {
			suggestions = names.Suggestions(matches)
		} else {
			suggestions = []string{}
		}
		return project, section, nil, models.NewError(models.CodeStudentNotFound, "no exact roster match").
			WithDetail("suggestions", suggestions)
	}
	return project, section, match, nil
}

func (h *Handler) HandleOTPInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client := clientInfo(r)

	if err := h.allow(ctx, ratelimit.InitKey(client.IP), h.opts.InitRule); err != nil {
		writeError(w, r, err)
		return
	}

	var req models.OTPInitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, invalidInput(err.Error()))
		return
	}
	if _, err := names.ValidateFullName(req.StudentName); err != nil {
		writeError(w, r, invalidInput(err.Error()))
		return
	}
	if err := h.checkPayload(&req); err != nil {
		writeError(w, r, err)
		return
	}

	project, section, match, err := h.resolveStudent(ctx, req.ProjectID, req.StudentName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if section.TelegramChatID == nil {
		writeError(w, r, models.ErrTelegramNotConfigured)
		return
	}
	if project.IsPastDeadline(h.now()) && !project.AllowLateSubmission {
		writeError(w, r, models.ErrDeadlineExpired)
		return
	}

	otp, created, err := h.store.CreatePending(ctx, store.CreatePendingParams{
		ProjectID:     project.ID,
		StudentID:     match.Student.ID,
		StudentName:   req.StudentName,
		SignedPayload: req.Payload,
		TTL:           h.opts.OTPTTL,
		MaxAttempts:   h.opts.MaxAttempts,
		Client:        client,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		metrics.OTPEventsTotal.WithLabelValues(string(models.ActionInit)).Inc()
		logger.Info.Printf("OTP %d created for project %d student %d", otp.ID, project.ID, match.Student.ID)
	} else {
		logger.Info.Printf("OTP %d already active for project %d student %d", otp.ID, project.ID, match.Student.ID)
	}

	resp := models.OTPInitResponse{
		OTPID:              otp.ID,
		BotDeeplink:        h.Deeplink(otp.ID),
		ExpiresIn:          secondsUntil(otp.ExpiresAt, h.now()),
		ProjectTitle:       project.Title,
		SectionName:        section.Name,
		Instructions:       project.Instructions,
		Requirements:       project.Requirements,
		SubmissionDuration: int(project.SubmissionDuration().Minutes()),
		AlreadyActive:      !created,
	}
	if !created {
		resp.Code = string(models.CodeAlreadyActiveOTP)
		resp.Message = models.MessageFor(models.CodeAlreadyActiveOTP)
	}
	writeJSON(w, status, resp)
}

func (h *Handler) HandleOTPVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client := clientInfo(r)

	if err := h.allow(ctx, ratelimit.VerifyKey(client.IP), h.opts.VerifyRule); err != nil {
		writeError(w, r, err)
		return
	}

	var req models.OTPVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, invalidInput(err.Error()))
		return
	}

	// the per-OTP counter mirrors the attempts column and saves a transaction
	// once an OTP is known to be locked out
	otpKey := ratelimit.VerifyOTPKey(req.OTPID)
	if h.counter != nil {
		if locked, err := ratelimit.IsLocked(ctx, h.counter, otpKey, int64(h.opts.MaxAttempts)); err == nil && locked {
			writeError(w, r, models.ErrOTPExpired)
			return
		}
	}

	res, err := h.store.TryVerify(ctx, req.OTPID, req.Code, client)
	if err != nil {
		if e, ok := models.AsError(err); ok {
			if e.Code == models.CodeCodeMismatch && h.counter != nil {
				if _, err := h.counter.Record(ctx, otpKey, h.opts.OTPTTL); err != nil {
					logger.Error.Printf("Failed to record attempt for OTP %d: %v", req.OTPID, err)
				}
			}
			metrics.OTPEventsTotal.WithLabelValues(string(e.Code)).Inc()
			logger.Info.Printf("OTP %d verify rejected: %s", req.OTPID, e.Code)
		}
		writeError(w, r, err)
		return
	}
	if h.counter != nil {
		h.counter.Clear(ctx, otpKey)
	}

	metrics.OTPEventsTotal.WithLabelValues(string(models.ActionVerifySuccess)).Inc()
	logger.Info.Printf("OTP %d verified", req.OTPID)

	writeJSON(w, http.StatusOK, models.OTPVerifyResponse{
		OK:          true,
		SubmitToken: res.SubmitToken,
		ExpiresIn:   int(res.ExpiresIn.Seconds()),
	})
}

// HandleCheckToken never consumes the token; it only reports whether a
// submit would currently pass the token checks.
func (h *Handler) HandleCheckToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.URL.Query().Get("token")

	invalid := func(code models.ErrorCode) {
		writeJSON(w, http.StatusOK, models.CheckTokenResponse{Valid: false, Error: string(code)})
	}

	if token == "" {
		invalid(models.CodeTokenInvalid)
		return
	}

	otp, err := h.store.GetOTPBySubmitToken(ctx, token)
	if err != nil {
		if e, ok := models.AsError(err); ok {
			invalid(e.Code)
			return
		}
		writeError(w, r, err)
		return
	}

	now := h.now()
	switch {
	case otp.Status == models.OTPStatusUsed:
		invalid(models.CodeOTPAlreadyUsed)
		return
	case otp.Status != models.OTPStatusVerified || otp.SubmitTokenTTL(now) <= 0:
		invalid(models.CodeTokenInvalid)
		return
	}

	resp := models.CheckTokenResponse{
		Valid:       true,
		StudentName: otp.StudentName,
	}
	left := int(otp.SubmitTokenTTL(now).Seconds())
	resp.ExpiresIn = &left

	if project, err := h.store.GetProject(ctx, otp.ProjectID); err == nil {
		resp.ProjectTitle = project.Title
	}

	writeJSON(w, http.StatusOK, resp)
}
