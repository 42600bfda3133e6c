package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// LinkService ties store-scoped account ids to users and backfills
// observations that arrived before the link existed.
type LinkService struct {
	accounts     domain.AccountStore
	observations domain.ObservationStore
	entitlements *EntitlementService
	logger       *slog.Logger
}

func NewLinkService(
	accounts domain.AccountStore,
	observations domain.ObservationStore,
	entitlements *EntitlementService,
	logger *slog.Logger,
) *LinkService {
	return &LinkService{
		accounts:     accounts,
		observations: observations,
		entitlements: entitlements,
		logger:       logger,
	}
}

// Link records the store account as belonging to the user, claims any
// orphaned observations stored under it, and recomputes. Idempotent.
func (s *LinkService) Link(ctx context.Context, userID uuid.UUID, store domain.Store, storeAccountID string) (*domain.Entitlement, error) {
	if !store.Valid() {
		return nil, ErrUnknownStore
	}
	if storeAccountID == "" {
		return nil, ErrMissingAccountRef
	}
	if _, err := s.accounts.Get(ctx, userID); err != nil {
		return nil, err
	}

	if err := s.accounts.LinkStoreAccount(ctx, store, storeAccountID, userID); err != nil {
		return nil, err
	}

	claimed, err := s.observations.AttachUser(ctx, store, storeAccountID, userID)
	if err != nil {
		return nil, err
	}
	if claimed > 0 {
		s.logger.Info("claimed orphaned observations",
			"user_id", userID, "store", store, "count", claimed)
	}

	return s.entitlements.Recompute(ctx, userID, TriggerLink)
}
