package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/middleware"
	"github.com/IsaiahDupree/everreach/internal/service"
)

// LinkHandler ties a store-scoped account id to the authenticated user and
// backfills observations that arrived before the link existed.
type LinkHandler struct {
	link     *service.LinkService
	validate *validator.Validate
}

func NewLinkHandler(link *service.LinkService, validate *validator.Validate) *LinkHandler {
	return &LinkHandler{link: link, validate: validate}
}

type linkRequest struct {
	Store          string `json:"store" validate:"required,oneof=card_provider app_store play_store"`
	StoreAccountID string `json:"store_account_id" validate:"required,max=255"`
}

// Link handles POST /api/v1/link
func (h *LinkHandler) Link(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
		return
	}

	var req linkRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "store and store_account_id are required"))
		return
	}

	e, err := h.link.Link(r.Context(), userID, domain.Store(req.Store), req.StoreAccountID)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, toEntitlementResponse(*e))
}
