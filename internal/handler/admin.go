package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/service"
)

// AdminHandler exposes operator-only maintenance operations. Routes using it
// sit behind middleware.RequireOperator.
type AdminHandler struct {
	usage        *service.UsageService
	entitlements *service.EntitlementService
	validate     *validator.Validate
}

func NewAdminHandler(usage *service.UsageService, entitlements *service.EntitlementService, validate *validator.Validate) *AdminHandler {
	return &AdminHandler{usage: usage, entitlements: entitlements, validate: validate}
}

type adminUserRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
}

func (h *AdminHandler) parseUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var req adminUserRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return uuid.Nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "user_id must be a UUID"))
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "user_id must be a UUID"))
		return uuid.Nil, false
	}
	return userID, true
}

// ResetUsage handles POST /api/v1/admin/usage/reset
func (h *AdminHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseUser(w, r)
	if !ok {
		return
	}

	e, err := h.usage.Reset(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, toEntitlementResponse(*e))
}

// Recompute handles POST /api/v1/admin/recompute
func (h *AdminHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseUser(w, r)
	if !ok {
		return
	}

	e, err := h.entitlements.Recompute(r.Context(), userID, service.TriggerAdmin)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, toEntitlementResponse(*e))
}
