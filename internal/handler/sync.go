package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/middleware"
	"github.com/IsaiahDupree/everreach/internal/service"
)

// SyncHandler accepts client-reported aggregator snapshots.
type SyncHandler struct {
	sync     *service.SyncService
	validate *validator.Validate
}

func NewSyncHandler(sync *service.SyncService, validate *validator.Validate) *SyncHandler {
	return &SyncHandler{sync: sync, validate: validate}
}

// syncRequest is the client payload. The body is also retained verbatim as
// the observation's raw payload.
type syncRequest struct {
	Platform            string   `json:"platform" validate:"required,oneof=web ios android"`
	ReportedTierHint    string   `json:"reported_tier_hint" validate:"required,oneof=free core pro team"`
	ActiveSubscriptions []string `json:"active_subscriptions" validate:"omitempty,dive,min=1"`
}

// Report handles POST /api/v1/sync
func (h *SyncHandler) Report(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Error reading request body"))
		return
	}

	var req syncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Invalid JSON body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "platform must be web, ios or android and reported_tier_hint one of free, core, pro, team"))
		return
	}

	e, err := h.sync.Report(r.Context(), service.SyncReport{
		UserID:              userID,
		Platform:            req.Platform,
		TierHint:            domain.Tier(req.ReportedTierHint),
		ActiveSubscriptions: req.ActiveSubscriptions,
		RawBody:             body,
	})
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, toEntitlementResponse(*e))
}
