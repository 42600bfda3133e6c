package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/IsaiahDupree/everreach/internal/catalog"
	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/telemetry"
)

// SyncReport is a client-reported aggregator snapshot of the user's
// subscription state: a tier hint plus the store SKUs the device believes
// are active. The lowest-trust source: it can raise an entitlement
// optimistically, never lower one held through a verified store.
type SyncReport struct {
	UserID              uuid.UUID
	Platform            string
	TierHint            domain.Tier
	ActiveSubscriptions []string
	RawBody             json.RawMessage
}

// SyncService ingests aggregator snapshots.
type SyncService struct {
	observations domain.ObservationStore
	entitlements *EntitlementService
	catalog      *catalog.Mapper
	metrics      *telemetry.BusinessMetrics
	logger       *slog.Logger
}

func NewSyncService(
	observations domain.ObservationStore,
	entitlements *EntitlementService,
	mapper *catalog.Mapper,
	metrics *telemetry.BusinessMetrics,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		observations: observations,
		entitlements: entitlements,
		catalog:      mapper,
		metrics:      metrics,
		logger:       logger,
	}
}

// syncTxID synthesizes the idempotency key. One key per user, tier and UTC
// day, so a client retrying its daily sync collapses into a single row.
func syncTxID(userID uuid.UUID, tier domain.Tier, at time.Time) string {
	return fmt.Sprintf("sync:%s:%s:%s", userID, tier, at.UTC().Format("2006-01-02"))
}

// Report records a client-reported snapshot as an aggregator observation and
// recomputes the entitlement. A snapshot below the current verified tier is
// stored like any other; the resolver's tier-max rule means an aggregator row
// can never lower a tier held through a verified store.
func (s *SyncService) Report(ctx context.Context, report SyncReport) (*domain.Entitlement, error) {
	if !report.TierHint.Valid() {
		s.countSync("rejected")
		return nil, ErrUnknownTier
	}

	current, err := s.entitlements.Get(ctx, report.UserID)
	if err != nil && domain.ErrorCode(err) != domain.ENOTFOUND {
		return nil, err
	}
	downgradeHint := current != nil && current.SourceStore.Verified() &&
		report.TierHint.Rank() < current.Tier.Rank()

	now := time.Now().UTC()
	obs := domain.SubscriptionObservation{
		Store:            domain.StoreAggregatorSync,
		ExternalTxID:     syncTxID(report.UserID, report.TierHint, now),
		UserID:           &report.UserID,
		LogicalProductID: s.classify(report),
		Status:           domain.ObservationActive,
		RawPayload:       report.RawBody,
		ObservedAt:       now,
	}
	if report.TierHint == domain.TierFree {
		// A free snapshot asserts no subscription; it never activates
		// anything, it only refreshes the log.
		obs.Status = domain.ObservationExpired
		obs.LogicalProductID = domain.UnclassifiedProduct
	} else {
		// Client snapshots carry no verified expiry and are trusted for
		// 24 hours only; the store's webhook takes over from there.
		end := now.Add(24 * time.Hour)
		obs.CurrentPeriodEnd = &end
	}

	written, err := s.observations.Upsert(ctx, obs)
	if err != nil {
		return nil, err
	}
	if !written {
		s.countSync("collapsed")
	} else {
		s.countSync("accepted")
		if s.metrics != nil {
			s.metrics.ObservationsIngested.WithLabelValues(string(domain.StoreAggregatorSync), string(obs.Status)).Inc()
		}
	}
	if downgradeHint {
		s.logger.Info("client sync reported a tier below the verified entitlement",
			"user_id", report.UserID,
			"reported_tier", report.TierHint,
			"verified_tier", current.Tier)
	}

	return s.entitlements.Recompute(ctx, report.UserID, TriggerSync)
}

// classify maps the snapshot to a logical product: the highest-tier product
// resolvable from the reported SKUs, else a product granting the hinted
// tier, else unclassified.
func (s *SyncService) classify(report SyncReport) string {
	store := storeForPlatform(report.Platform)

	best := ""
	var bestTier domain.Tier
	if store != "" {
		for _, sku := range report.ActiveSubscriptions {
			product, err := s.catalog.Resolve(store, sku)
			if err != nil {
				continue
			}
			tier, ok := s.catalog.TierFor(product)
			if !ok {
				continue
			}
			if best == "" || tier.Rank() > bestTier.Rank() {
				best = product
				bestTier = tier
			}
		}
	}
	if best != "" {
		return best
	}

	if product, ok := s.catalog.ProductForTier(report.TierHint); ok {
		return product
	}
	return domain.UnclassifiedProduct
}

// storeForPlatform maps the client platform to the store its SKUs belong to.
func storeForPlatform(platform string) domain.Store {
	switch platform {
	case "web":
		return domain.StoreCard
	case "ios":
		return domain.StoreAppStore
	case "android":
		return domain.StorePlayStore
	}
	return ""
}

func (s *SyncService) countSync(outcome string) {
	if s.metrics != nil {
		s.metrics.SyncReports.WithLabelValues(outcome).Inc()
	}
}
