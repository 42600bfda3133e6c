package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/IsaiahDupree/everreach/internal/catalog"
	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/telemetry"
)

// Recompute triggers, used as a metric label.
const (
	TriggerWebhook = "webhook"
	TriggerSync    = "sync"
	TriggerUsage   = "usage"
	TriggerLink    = "link"
	TriggerSweep   = "sweep"
	TriggerAdmin   = "admin"
	TriggerRead    = "read"
)

// EntitlementService derives and serves entitlements. All writes go through
// Recompute, which serializes per user at the storage layer.
type EntitlementService struct {
	entitlements domain.EntitlementStore
	cache        domain.EntitlementCache // nil disables caching
	publisher    domain.EventPublisher
	catalog      *catalog.Mapper
	strategies   domain.StrategyProvider
	metrics      *telemetry.BusinessMetrics
	logger       *slog.Logger
}

func NewEntitlementService(
	entitlements domain.EntitlementStore,
	cache domain.EntitlementCache,
	publisher domain.EventPublisher,
	mapper *catalog.Mapper,
	strategies domain.StrategyProvider,
	metrics *telemetry.BusinessMetrics,
	logger *slog.Logger,
) *EntitlementService {
	return &EntitlementService{
		entitlements: entitlements,
		cache:        cache,
		publisher:    publisher,
		catalog:      mapper,
		strategies:   strategies,
		metrics:      metrics,
		logger:       logger,
	}
}

// Recompute re-derives the user's entitlement from the observation log under
// the per-user lock and returns the new current row.
func (s *EntitlementService) Recompute(ctx context.Context, userID uuid.UUID, trigger string) (*domain.Entitlement, error) {
	start := time.Now()

	prev, err := s.entitlements.Current(ctx, userID)
	if err != nil && domain.ErrorCode(err) != domain.ENOTFOUND {
		return nil, err
	}

	var next domain.Entitlement
	err = s.entitlements.RecomputeUnderLock(ctx, userID, func(ctx context.Context, tx domain.RecomputeTx) error {
		account, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		obs, err := tx.Observations(ctx)
		if err != nil {
			return err
		}
		usage, err := tx.Usage(ctx)
		if err != nil {
			return err
		}

		res := Resolve(ResolveInput{
			Account:      account,
			Observations: obs,
			Usage:        usage,
			Strategy:     s.strategies.ActiveStrategy(account.Platform),
			Now:          time.Now().UTC(),
			TierFor:      s.catalog.TierFor,
		})

		if err := tx.MarkSuperseded(ctx, res.SupersededIDs); err != nil {
			return err
		}
		if err := tx.SaveEntitlement(ctx, res.Entitlement); err != nil {
			return err
		}
		next = res.Entitlement
		return nil
	})

	if s.metrics != nil {
		s.metrics.RecomputeLatency.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecomputeRuns.WithLabelValues(trigger, "error").Inc()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecomputeRuns.WithLabelValues(trigger, "ok").Inc()
	}

	s.afterRecompute(ctx, prev, next, trigger)
	return &next, nil
}

// afterRecompute handles the best-effort side of a successful recompute:
// cache refresh, change event, transition metric.
func (s *EntitlementService) afterRecompute(ctx context.Context, prev *domain.Entitlement, next domain.Entitlement, trigger string) {
	if s.cache != nil {
		if err := s.cache.Set(ctx, next); err != nil {
			s.logger.Warn("failed to refresh entitlement cache",
				"user_id", next.UserID, "error", err)
		}
	}

	changed := prev == nil || prev.Tier != next.Tier || prev.Status != next.Status
	if !changed {
		return
	}

	fromTier := domain.TierFree
	if prev != nil {
		fromTier = prev.Tier
	}
	if s.metrics != nil {
		s.metrics.EntitlementTransitions.WithLabelValues(string(fromTier), string(next.Tier)).Inc()
	}

	s.logger.Info("entitlement changed",
		"user_id", next.UserID,
		"trigger", trigger,
		"from_tier", fromTier,
		"to_tier", next.Tier,
		"status", next.Status,
		"source_store", next.SourceStore)

	if s.publisher != nil {
		s.publisher.EntitlementUpdated(ctx, next)
	}
}

// Get returns the user's current entitlement, computing it on first read.
func (s *EntitlementService) Get(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	if s.cache != nil {
		if e, err := s.cache.Get(ctx, userID); err == nil {
			return e, nil
		}
	}

	e, err := s.entitlements.Current(ctx, userID)
	if domain.ErrorCode(err) == domain.ENOTFOUND {
		return s.Recompute(ctx, userID, TriggerRead)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cerr := s.cache.Set(ctx, *e); cerr != nil {
			s.logger.Warn("failed to populate entitlement cache",
				"user_id", userID, "error", cerr)
		}
	}
	return e, nil
}

// HasFeatureAccess answers the single-feature gate question.
func (s *EntitlementService) HasFeatureAccess(ctx context.Context, userID uuid.UUID, featureKey string) (bool, error) {
	e, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.HasFeatureAccess(featureKey), nil
}

// History returns past entitlement rows, newest first.
func (s *EntitlementService) History(ctx context.Context, userID uuid.UUID, limit int32) ([]domain.Entitlement, error) {
	return s.entitlements.History(ctx, userID, limit)
}
