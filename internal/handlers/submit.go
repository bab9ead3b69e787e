package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/membership"
	"github.com/shrimpsizemoose/taslim/internal/metrics"
	"github.com/shrimpsizemoose/taslim/internal/models"
	"github.com/shrimpsizemoose/taslim/internal/upload"
)

// multipart framing on top of the file itself
const multipartOverhead = 1 << 20

const maxMemoryMultipart = 32 << 20

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(maxMemoryMultipart); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, models.NewError(models.CodeFileTooLarge, "request body too large"))
			return
		}
		writeError(w, r, invalidInput("malformed multipart body"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	projectID, err := strconv.ParseInt(r.FormValue("project_id"), 10, 64)
	if err != nil || projectID <= 0 {
		writeError(w, r, invalidInput("project_id must be a positive integer"))
		return
	}
	token := r.FormValue("submit_token")
	if token == "" {
		writeError(w, r, invalidInput("submit_token is required"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, invalidInput("file is required"))
		return
	}
	defer file.Close()

	if h.opts.RecheckMembershipOnSubmit {
		if err := h.recheckMembership(ctx, token); err != nil {
			writeError(w, r, err)
			return
		}
	}

	sub, err := h.gate.Accept(ctx, upload.Request{
		ProjectID:   projectID,
		SubmitToken: token,
		File:        upload.File{Name: header.Filename, Body: file},
		Client:      clientInfo(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	metrics.OTPEventsTotal.WithLabelValues(string(models.ActionUsed)).Inc()
	writeJSON(w, http.StatusCreated, models.SubmitResponse{
		SubmissionID: sub.ID,
		FileName:     sub.FileName,
		FileSize:     sub.FileSize,
		SubmittedAt:  sub.SubmittedAt,
	})
}

// recheckMembership makes sure the Telegram account that received the code is
// still in the section group at upload time.
func (h *Handler) recheckMembership(ctx context.Context, token string) error {
	if h.oracle == nil {
		return nil
	}
	otp, err := h.store.GetOTPBySubmitToken(ctx, token)
	if err != nil {
		return err
	}
	if otp.TelegramUserID == nil || otp.TelegramChatID == nil {
		return models.NewError(models.CodeTokenInvalid, "code was not delivered through telegram")
	}

	status, err := h.oracle.IsMember(ctx, *otp.TelegramChatID, *otp.TelegramUserID)
	if err != nil {
		return err
	}
	metrics.MembershipChecksTotal.WithLabelValues(string(status)).Inc()

	switch status {
	case membership.StatusActive:
		return nil
	case membership.StatusBotForbidden:
		return models.NewError(models.CodeBotForbidden, "bot cannot read the section group")
	default:
		logger.Info.Printf("OTP %d submit refused: telegram user left the group (%s)", otp.ID, status)
		return models.NewError(models.CodeTokenInvalid, "telegram user is no longer a group member")
	}
}
