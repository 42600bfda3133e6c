// Package worker runs the periodic reconciliation sweep.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/service"
	"github.com/IsaiahDupree/everreach/internal/telemetry"
)

// Config holds sweep worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// Interval is how often to look for stale entitlements
	Interval time.Duration

	// BatchSize is how many users to recompute per sweep
	BatchSize int32

	// MaxConcurrency is the maximum number of users recomputed in parallel
	MaxConcurrency int
}

// Sweeper periodically recomputes entitlements whose inputs moved past their
// computed_at: elapsed trials, elapsed period ends, observations that arrived
// while no recompute ran. Webhooks keep entitlements fresh on the happy path;
// the sweep is the convergence backstop.
type Sweeper struct {
	config       Config
	entitlements domain.EntitlementStore
	svc          *service.EntitlementService
	metrics      *telemetry.BusinessMetrics
	logger       *slog.Logger
}

func NewSweeper(
	entitlements domain.EntitlementStore,
	svc *service.EntitlementService,
	config Config,
	metrics *telemetry.BusinessMetrics,
	logger *slog.Logger,
) *Sweeper {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("sweep-%s", uuid.New().String()[:8])
	}
	if config.Interval == 0 {
		config.Interval = time.Minute
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}

	return &Sweeper{
		config:       config,
		entitlements: entitlements,
		svc:          svc,
		metrics:      metrics,
		logger:       logger,
	}
}

// Start runs sweep iterations until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("sweep worker starting",
		"worker_id", s.config.WorkerID,
		"interval", s.config.Interval,
		"batch_size", s.config.BatchSize,
		"max_concurrency", s.config.MaxConcurrency,
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep worker shutting down", "worker_id", s.config.WorkerID)
			return ctx.Err()

		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one iteration: find stale users, recompute each under the
// per-user lock. Failures are per-user; one bad user never stops the batch.
func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()

	users, err := s.entitlements.UsersNeedingRecompute(ctx, time.Now().UTC(), s.config.BatchSize)
	if err != nil {
		s.logger.Error("sweep: failed to find stale entitlements", "error", err)
		if s.metrics != nil {
			s.metrics.SweepRuns.WithLabelValues("error").Inc()
		}
		return
	}
	if len(users) == 0 {
		if s.metrics != nil {
			s.metrics.SweepRuns.WithLabelValues("ok").Inc()
			s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		}
		return
	}

	s.logger.Info("sweep: recomputing stale entitlements", "count", len(users))

	sem := make(chan struct{}, s.config.MaxConcurrency)
	var wg sync.WaitGroup
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := s.svc.Recompute(ctx, userID, service.TriggerSweep); err != nil {
				s.logger.Error("sweep: recompute failed", "user_id", userID, "error", err)
				return
			}
			if s.metrics != nil {
				s.metrics.SweepUsers.Inc()
			}
		}(userID)
	}
	wg.Wait()

	if s.metrics != nil {
		s.metrics.SweepRuns.WithLabelValues("ok").Inc()
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
}
