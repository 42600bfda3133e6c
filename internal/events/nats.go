// Package events publishes entitlement change notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

const subjectEntitlementUpdated = "everreach.entitlement.updated"

// entitlementUpdatedEvent is the wire shape consumed by downstream feature
// gates and the client sync service.
type entitlementUpdatedEvent struct {
	UserID        string               `json:"user_id"`
	Tier          domain.Tier          `json:"tier"`
	Status        string               `json:"status"`
	SourceStore   domain.Store         `json:"source_store"`
	FeatureLimits domain.FeatureLimits `json:"feature_limits"`
	ComputedAt    time.Time            `json:"computed_at"`
	TrialEndsAt   *time.Time           `json:"trial_ends_at,omitempty"`
}

// NatsPublisher emits events over NATS. Publishing is best effort: failures
// are logged, never propagated to the caller.
type NatsPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

var _ domain.EventPublisher = (*NatsPublisher)(nil)

func NewNatsPublisher(url string, logger *slog.Logger) (*NatsPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NatsPublisher{conn: conn, logger: logger}, nil
}

func (p *NatsPublisher) EntitlementUpdated(ctx context.Context, e domain.Entitlement) {
	evt := entitlementUpdatedEvent{
		UserID:        e.UserID.String(),
		Tier:          e.Tier,
		Status:        string(e.Status),
		SourceStore:   e.SourceStore,
		FeatureLimits: e.FeatureLimits,
		ComputedAt:    e.ComputedAt,
		TrialEndsAt:   e.TrialEndsAt,
	}

	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to encode entitlement event",
			"user_id", e.UserID, "error", err)
		return
	}

	if err := p.conn.Publish(subjectEntitlementUpdated, data); err != nil {
		p.logger.Warn("failed to publish entitlement event",
			"user_id", e.UserID, "error", err)
	}
}

func (p *NatsPublisher) Close() {
	p.conn.Drain()
}

// NoopPublisher discards events. Used when NATS is not configured.
type NoopPublisher struct{}

var _ domain.EventPublisher = NoopPublisher{}

func (NoopPublisher) EntitlementUpdated(context.Context, domain.Entitlement) {}
