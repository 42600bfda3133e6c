package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tier is an ordered privilege level controlling feature limits.
type Tier string

const (
	TierFree Tier = "free"
	TierCore Tier = "core"
	TierPro  Tier = "pro"
	TierTeam Tier = "team"
)

// tierRank orders tiers by privilege. Unknown tiers rank below free.
var tierRank = map[Tier]int{
	TierFree: 0,
	TierCore: 1,
	TierPro:  2,
	TierTeam: 3,
}

// Rank returns the tier's position in the privilege order, -1 for unknown.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// MaxTier returns the higher-privilege of two tiers.
func MaxTier(a, b Tier) Tier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// EntitlementStatus describes how the current tier was obtained.
type EntitlementStatus string

const (
	EntitlementActive  EntitlementStatus = "active"
	EntitlementTrial   EntitlementStatus = "trial"
	EntitlementGrace   EntitlementStatus = "grace"
	EntitlementExpired EntitlementStatus = "expired"
)

// Unlimited is the sentinel limit value meaning no cap. No other negative
// limit is valid; a different negative value in configuration is a
// configuration error, not a runtime state.
const Unlimited int64 = -1

// Feature keys gated by entitlements.
const (
	FeatureContacts         = "contacts"
	FeaturePipelines        = "pipelines"
	FeatureMessageTemplates = "message_templates"
	FeatureTeamSeats        = "team_seats"
)

// FeatureLimits maps a feature key to its numeric limit.
type FeatureLimits map[string]int64

// tierLimits is the static tier -> limits table. Not user-specific.
var tierLimits = map[Tier]FeatureLimits{
	TierFree: {
		FeatureContacts:         100,
		FeaturePipelines:        1,
		FeatureMessageTemplates: 3,
		FeatureTeamSeats:        1,
	},
	TierCore: {
		FeatureContacts:         2500,
		FeaturePipelines:        5,
		FeatureMessageTemplates: 25,
		FeatureTeamSeats:        1,
	},
	TierPro: {
		FeatureContacts:         Unlimited,
		FeaturePipelines:        Unlimited,
		FeatureMessageTemplates: Unlimited,
		FeatureTeamSeats:        3,
	},
	TierTeam: {
		FeatureContacts:         Unlimited,
		FeaturePipelines:        Unlimited,
		FeatureMessageTemplates: Unlimited,
		FeatureTeamSeats:        Unlimited,
	},
}

// LimitsForTier returns a copy of the static limits for a tier.
// Unknown tiers get the free limits.
func LimitsForTier(t Tier) FeatureLimits {
	src, ok := tierLimits[t]
	if !ok {
		src = tierLimits[TierFree]
	}
	limits := make(FeatureLimits, len(src))
	for k, v := range src {
		limits[k] = v
	}
	return limits
}

// Entitlement is the derived, authoritative record of what a user may do.
// It is a materialized view over the observation log, usage counters and the
// paywall strategy in force at computation time - always recomputable, never
// a primary source of truth.
type Entitlement struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Tier          Tier
	Status        EntitlementStatus
	SourceStore   Store
	FeatureLimits FeatureLimits
	ComputedAt    time.Time
	TrialEndsAt   *time.Time // only meaningful when Status == EntitlementTrial
}

// HasFeatureAccess reports whether the feature is usable under this
// entitlement. Features absent from the limits table are not gated.
func (e Entitlement) HasFeatureAccess(featureKey string) bool {
	limit, ok := e.FeatureLimits[featureKey]
	if !ok {
		return true
	}
	return limit == Unlimited || limit > 0
}

// RecomputeTx is the set of reads and writes available inside a per-user
// serialized recomputation. Implementations hold the user's advisory lock for
// the lifetime of the callback.
type RecomputeTx interface {
	Observations(ctx context.Context) ([]SubscriptionObservation, error)
	Usage(ctx context.Context) (UsageCounter, error)
	Account(ctx context.Context) (Account, error)
	MarkSuperseded(ctx context.Context, ids []uuid.UUID) error
	SaveEntitlement(ctx context.Context, e Entitlement) error
}

// EntitlementStore persists the slowly-changing entitlement dimension:
// one current row per user, history retained.
type EntitlementStore interface {
	// Current returns the user's authoritative entitlement row, or
	// ENOTFOUND if the user has never been computed.
	Current(ctx context.Context, userID uuid.UUID) (*Entitlement, error)

	// History returns past entitlement rows, newest first.
	History(ctx context.Context, userID uuid.UUID, limit int32) ([]Entitlement, error)

	// RecomputeUnderLock runs fn holding the user's advisory lock so
	// concurrent recomputations for the same user serialize. The final
	// entitlement write happens inside the same transaction.
	RecomputeUnderLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx RecomputeTx) error) error

	// UsersNeedingRecompute returns users whose observation log, trial
	// boundary or period end has moved past their current entitlement's
	// computed_at. Consumed by the reconciliation sweep.
	UsersNeedingRecompute(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error)
}

// EntitlementCache is a best-effort read cache for the current row.
// A nil or failing cache degrades to database reads.
type EntitlementCache interface {
	Get(ctx context.Context, userID uuid.UUID) (*Entitlement, error)
	Set(ctx context.Context, e Entitlement) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// EventPublisher emits entitlement change notifications for downstream
// feature gates. Publishing is best effort and must never fail the
// triggering request.
type EventPublisher interface {
	EntitlementUpdated(ctx context.Context, e Entitlement)
}
