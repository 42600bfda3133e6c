package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/IsaiahDupree/everreach/internal/catalog"
	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/telemetry"
	"github.com/IsaiahDupree/everreach/internal/verify"
)

// IngestService turns store webhook deliveries into verified observations.
// Webhook bodies are treated as hints only: the subscription state written to
// the log always comes from the store's verification API.
type IngestService struct {
	verifiers    map[domain.Store]verify.Verifier
	observations domain.ObservationStore
	accounts     domain.AccountStore
	entitlements *EntitlementService
	catalog      *catalog.Mapper
	metrics      *telemetry.BusinessMetrics
	logger       *slog.Logger
}

func NewIngestService(
	verifiers map[domain.Store]verify.Verifier,
	observations domain.ObservationStore,
	accounts domain.AccountStore,
	entitlements *EntitlementService,
	mapper *catalog.Mapper,
	metrics *telemetry.BusinessMetrics,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		verifiers:    verifiers,
		observations: observations,
		accounts:     accounts,
		entitlements: entitlements,
		catalog:      mapper,
		metrics:      metrics,
		logger:       logger,
	}
}

// Ingest verifies the referenced purchase against the store and records the
// result as an observation. A purchase the store no longer knows about is
// recorded as expired. Transient verification failures propagate as
// EUNAVAILABLE so the platform redelivers.
func (s *IngestService) Ingest(ctx context.Context, store domain.Store, ref verify.Ref, observedAt time.Time, raw json.RawMessage) (*domain.SubscriptionObservation, error) {
	const op = "service.IngestService.Ingest"

	verifier, ok := s.verifiers[store]
	if !ok {
		return nil, ErrUnknownStore
	}

	now := time.Now().UTC()
	if observedAt.IsZero() {
		observedAt = now
	}

	start := time.Now()
	purchase, err := verifier.Verify(ctx, ref)
	if s.metrics != nil {
		s.metrics.VerifyLatency.WithLabelValues(string(store)).Observe(time.Since(start).Seconds())
	}

	var obs domain.SubscriptionObservation
	switch {
	case err == nil:
		s.countVerify(store, "ok")
		obs = s.observationFromPurchase(purchase, now)

	case errors.Is(err, verify.ErrPurchaseNotFound):
		// The store disowns the purchase. Record it as expired so a prior
		// optimistic grant stops contributing.
		s.countVerify(store, "not_found")
		obs = domain.SubscriptionObservation{
			Store:            store,
			ExternalTxID:     externalTxID(ref),
			StoreAccountID:   ref.PurchaseToken,
			LogicalProductID: s.classify(store, ref.StoreSKU),
			Status:           domain.ObservationExpired,
		}

	case verify.IsTransient(err):
		s.countVerify(store, "transient")
		return nil, domain.Unavailable(err, op, "Store verification is temporarily unavailable")

	default:
		s.countVerify(store, "error")
		return nil, domain.Internal(err, op, "Store verification failed")
	}

	obs.RawPayload = raw
	obs.ObservedAt = observedAt

	if obs.UserID == nil && obs.StoreAccountID != "" {
		userID, err := s.accounts.UserForStoreAccount(ctx, store, obs.StoreAccountID)
		if err != nil {
			s.logger.Warn("store account lookup failed",
				"store", store, "store_account_id", obs.StoreAccountID, "error", err)
		} else {
			obs.UserID = userID
		}
	}

	written, err := s.observations.Upsert(ctx, obs)
	if err != nil {
		return nil, err
	}
	if !written {
		if s.metrics != nil {
			s.metrics.ObservationsDiscarded.WithLabelValues(string(store)).Inc()
		}
		s.logger.Info("stale observation discarded",
			"store", store, "external_tx_id", obs.ExternalTxID, "observed_at", obs.ObservedAt)
		return &obs, nil
	}
	if s.metrics != nil {
		s.metrics.ObservationsIngested.WithLabelValues(string(store), string(obs.Status)).Inc()
	}

	s.recomputeAfterIngest(ctx, obs.UserID)
	return &obs, nil
}

// observationFromPurchase normalizes a verified purchase.
func (s *IngestService) observationFromPurchase(p *verify.VerifiedPurchase, now time.Time) domain.SubscriptionObservation {
	obs := domain.SubscriptionObservation{
		Store:            p.Store,
		ExternalTxID:     p.ExternalTxID,
		StoreAccountID:   p.StoreAccountID,
		LogicalProductID: s.classify(p.Store, p.StoreSKU),
		Status:           p.Status(now),
		CurrentPeriodEnd: p.ExpiresAt,
	}

	if p.LinkedUserID != "" {
		if id, err := uuid.Parse(p.LinkedUserID); err == nil {
			obs.UserID = &id
		}
	}
	return obs
}

// classify maps a store SKU to its logical product, recording unknown SKUs
// rather than rejecting them.
func (s *IngestService) classify(store domain.Store, storeSKU string) string {
	if storeSKU == "" {
		return domain.UnclassifiedProduct
	}
	product, err := s.catalog.Resolve(store, storeSKU)
	if err != nil {
		if s.metrics != nil {
			s.metrics.UnclassifiedProducts.WithLabelValues(string(store), storeSKU).Inc()
		}
		s.logger.Warn("unclassified product sku", "store", store, "sku", storeSKU)
		return domain.UnclassifiedProduct
	}
	return product
}

// recomputeAfterIngest refreshes the entitlement for a linked user. Failures
// are logged, never surfaced: the observation is durable and the sweep will
// converge the entitlement.
func (s *IngestService) recomputeAfterIngest(ctx context.Context, userID *uuid.UUID) {
	if userID == nil {
		return
	}
	if _, err := s.entitlements.Recompute(ctx, *userID, TriggerWebhook); err != nil {
		s.logger.Error("recompute after ingest failed", "user_id", *userID, "error", err)
	}
}

func (s *IngestService) countVerify(store domain.Store, outcome string) {
	if s.metrics != nil {
		s.metrics.VerifyCalls.WithLabelValues(string(store), outcome).Inc()
	}
}

// externalTxID picks the stable transaction key for an unverifiable purchase.
func externalTxID(ref verify.Ref) string {
	if ref.SubscriptionID != "" {
		return ref.SubscriptionID
	}
	return ref.PurchaseToken
}
