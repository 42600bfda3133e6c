package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/middleware"
	"github.com/IsaiahDupree/everreach/internal/service"
)

// EntitlementHandler serves the read path consumed by clients and feature
// gates on every app launch.
type EntitlementHandler struct {
	entitlements *service.EntitlementService
}

func NewEntitlementHandler(entitlements *service.EntitlementService) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements}
}

// entitlementResponse is the wire shape of an entitlement.
type entitlementResponse struct {
	UserID        string               `json:"user_id"`
	Tier          domain.Tier          `json:"tier"`
	Status        string               `json:"status"`
	SourceStore   domain.Store         `json:"source_store,omitempty"`
	FeatureLimits domain.FeatureLimits `json:"feature_limits"`
	ComputedAt    time.Time            `json:"computed_at"`
	TrialEndsAt   *time.Time           `json:"trial_ends_at,omitempty"`
}

func toEntitlementResponse(e domain.Entitlement) entitlementResponse {
	return entitlementResponse{
		UserID:        e.UserID.String(),
		Tier:          e.Tier,
		Status:        string(e.Status),
		SourceStore:   e.SourceStore,
		FeatureLimits: e.FeatureLimits,
		ComputedAt:    e.ComputedAt,
		TrialEndsAt:   e.TrialEndsAt,
	}
}

// Get handles GET /api/v1/entitlement
func (h *EntitlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
		return
	}

	e, err := h.entitlements.Get(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, toEntitlementResponse(*e))
}

// History handles GET /api/v1/entitlement/history
func (h *EntitlementHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
		return
	}

	var limit int32 = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n < 1 || n > 500 {
			ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "limit must be between 1 and 500"))
			return
		}
		limit = int32(n)
	}

	history, err := h.entitlements.History(r.Context(), userID, limit)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	out := make([]entitlementResponse, 0, len(history))
	for _, e := range history {
		out = append(out, toEntitlementResponse(e))
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"history": out})
}

// Feature handles GET /api/v1/entitlement/features/{key}
func (h *EntitlementHandler) Feature(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
		return
	}

	key := r.PathValue("key")
	if key == "" {
		ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Feature key is required"))
		return
	}

	e, err := h.entitlements.Get(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	limit, gated := e.FeatureLimits[key]
	resp := map[string]interface{}{
		"feature": key,
		"allowed": e.HasFeatureAccess(key),
	}
	if gated {
		resp["limit"] = limit
	}
	RespondJSON(w, http.StatusOK, resp)
}
