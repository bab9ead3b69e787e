package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/membership"
	"github.com/shrimpsizemoose/taslim/internal/metrics"
	"github.com/shrimpsizemoose/taslim/internal/models"
	"github.com/shrimpsizemoose/taslim/internal/names"
)

// HandleVerifyStudent is the frontend preflight: it answers whether the typed
// name is on the roster before any OTP is created.
func (h *Handler) HandleVerifyStudent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.VerifyStudentRequest
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

	_, section, match, err := h.resolveStudent(ctx, req.ProjectID, req.StudentName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	student := match.Student
	resp := models.VerifyStudentResponse{
		Found:          true,
		StudentID:      student.ID,
		FullName:       student.FullName,
		Similarity:     match.Similarity,
		JoinedTelegram: student.JoinedTelegram,
	}

	if req.CheckMembership {
		status := h.membershipOf(ctx, section, &student)
		resp.MembershipStatus = string(status)
		if status != membership.StatusActive {
			resp.InviteLink = section.InviteLink
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// membershipOf asks the oracle about a roster entry. Students who never
// opened the bot have no Telegram id to ask about, so they are not_found.
func (h *Handler) membershipOf(ctx context.Context, section *models.Section, student *models.Student) membership.Status {
	if h.oracle == nil || section.TelegramChatID == nil || student.TelegramUserID == nil {
		return membership.StatusNotFound
	}
	status, err := h.oracle.IsMember(ctx, *section.TelegramChatID, *student.TelegramUserID)
	if err != nil {
		logger.Error.Printf("Membership check for student %d failed: %v", student.ID, err)
		return membership.StatusNotFound
	}
	metrics.MembershipChecksTotal.WithLabelValues(string(status)).Inc()
	return status
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		logger.Error.Printf("Health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
