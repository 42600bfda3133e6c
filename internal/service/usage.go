package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/telemetry"
)

// UsageService records session usage feeding usage-bounded trials.
type UsageService struct {
	usage        domain.UsageStore
	accounts     domain.AccountStore
	entitlements *EntitlementService
	strategies   domain.StrategyProvider
	metrics      *telemetry.BusinessMetrics
	logger       *slog.Logger
}

func NewUsageService(
	usage domain.UsageStore,
	accounts domain.AccountStore,
	entitlements *EntitlementService,
	strategies domain.StrategyProvider,
	metrics *telemetry.BusinessMetrics,
	logger *slog.Logger,
) *UsageService {
	return &UsageService{
		usage:        usage,
		accounts:     accounts,
		entitlements: entitlements,
		strategies:   strategies,
		metrics:      metrics,
		logger:       logger,
	}
}

// RecordSession atomically adds a finished session to the user's counters.
// When the increment crosses the platform's usage-trial budget the
// entitlement is recomputed immediately so the trial ends on this request,
// not on the next sweep.
func (s *UsageService) RecordSession(ctx context.Context, userID uuid.UUID, minutes, sessions int64, at time.Time) (domain.UsageCounter, error) {
	if minutes < 0 || sessions < 0 {
		s.countUsage("rejected")
		return domain.UsageCounter{}, ErrInvalidUsage
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	before, err := s.usage.Get(ctx, userID)
	if err != nil {
		return domain.UsageCounter{}, err
	}

	counter, err := s.usage.Increment(ctx, userID, minutes, sessions, at)
	if err != nil {
		s.countUsage("error")
		return domain.UsageCounter{}, err
	}
	s.countUsage("accepted")

	if s.crossedTrialBudget(ctx, userID, before.TotalActiveMinutes, counter.TotalActiveMinutes) {
		if _, err := s.entitlements.Recompute(ctx, userID, TriggerUsage); err != nil {
			s.logger.Error("recompute after usage threshold failed",
				"user_id", userID, "error", err)
		}
	}

	return counter, nil
}

// Get returns the user's usage counter.
func (s *UsageService) Get(ctx context.Context, userID uuid.UUID) (domain.UsageCounter, error) {
	return s.usage.Get(ctx, userID)
}

// Reset zeroes the counter and recomputes, restoring a usage trial.
// Admin-only operation.
func (s *UsageService) Reset(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	if err := s.usage.Reset(ctx, userID); err != nil {
		return nil, err
	}
	s.logger.Info("usage counters reset", "user_id", userID)
	return s.entitlements.Recompute(ctx, userID, TriggerAdmin)
}

// crossedTrialBudget reports whether this increment moved the user from
// inside to outside a usage-trial budget.
func (s *UsageService) crossedTrialBudget(ctx context.Context, userID uuid.UUID, before, after int64) bool {
	account, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return false
	}
	strat := s.strategies.ActiveStrategy(account.Platform)
	if strat.TrialType != domain.TrialUsage || strat.TrialUsageMinutes <= 0 {
		return false
	}
	return before < strat.TrialUsageMinutes && after >= strat.TrialUsageMinutes
}

func (s *UsageService) countUsage(outcome string) {
	if s.metrics != nil {
		s.metrics.UsageReports.WithLabelValues(outcome).Inc()
	}
}
