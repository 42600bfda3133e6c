package handler

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/middleware"
	"github.com/IsaiahDupree/everreach/internal/service"
)

// UsageHandler accepts session usage reports.
type UsageHandler struct {
	usage    *service.UsageService
	validate *validator.Validate
}

func NewUsageHandler(usage *service.UsageService, validate *validator.Validate) *UsageHandler {
	return &UsageHandler{usage: usage, validate: validate}
}

type usageRequest struct {
	ActiveMinutes int64      `json:"active_minutes" validate:"min=0,max=1440"`
	Sessions      int64      `json:"sessions" validate:"min=0,max=1000"`
	EndedAt       *time.Time `json:"ended_at" validate:"omitempty"`
}

type usageResponse struct {
	UserID             string     `json:"user_id"`
	TotalActiveMinutes int64      `json:"total_active_minutes"`
	TotalSessions      int64      `json:"total_sessions"`
	LastSessionAt      *time.Time `json:"last_session_at,omitempty"`
}

// RecordSession handles POST /api/v1/usage/sessions
func (h *UsageHandler) RecordSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
		return
	}

	var req usageRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "active_minutes and sessions are out of range"))
		return
	}

	endedAt := time.Now().UTC()
	if req.EndedAt != nil {
		endedAt = *req.EndedAt
	}

	counter, err := h.usage.RecordSession(r.Context(), userID, req.ActiveMinutes, req.Sessions, endedAt)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, usageResponse{
		UserID:             counter.UserID.String(),
		TotalActiveMinutes: counter.TotalActiveMinutes,
		TotalSessions:      counter.TotalSessions,
		LastSessionAt:      counter.LastSessionAt,
	})
}

// Get handles GET /api/v1/usage
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
		return
	}

	counter, err := h.usage.Get(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, usageResponse{
		UserID:             userID.String(),
		TotalActiveMinutes: counter.TotalActiveMinutes,
		TotalSessions:      counter.TotalSessions,
		LastSessionAt:      counter.LastSessionAt,
	})
}
