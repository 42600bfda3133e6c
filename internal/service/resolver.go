package service

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// ResolveInput is everything the resolver reads. All inputs are plain values;
// the resolver never touches storage.
type ResolveInput struct {
	Account      domain.Account
	Observations []domain.SubscriptionObservation
	Usage        domain.UsageCounter
	Strategy     domain.PaywallStrategy
	Now          time.Time

	// TierFor maps a logical product id to its tier. Unknown products
	// contribute nothing.
	TierFor func(logicalProductID string) (domain.Tier, bool)
}

// Resolution is the resolver's output: the entitlement to persist and the
// observation rows that lost to a newer record for the same product.
type Resolution struct {
	Entitlement   domain.Entitlement
	SupersededIDs []uuid.UUID
}

// Resolve derives the authoritative entitlement from the observation log.
//
// Only observations that are active or in grace and inside their period
// contribute. Per logical product the newest contributing observation wins
// and the contributing losers are marked superseded; an expired record never
// unseats an active one. Across products the highest tier wins; equal tiers
// are broken by later period end, then by preferring verified stores over
// the client-reported aggregator. A user with no contributing observation
// falls through to the trial policy, then to the free tier.
func Resolve(in ResolveInput) Resolution {
	winners, superseded := pickWinners(in.Observations, in.Now)

	best := pickBest(winners, in.TierFor)

	e := domain.Entitlement{
		ID:         uuid.New(),
		UserID:     in.Account.ID,
		ComputedAt: in.Now,
	}

	if best != nil {
		tier, _ := in.TierFor(best.LogicalProductID)
		e.Tier = tier
		e.SourceStore = best.Store
		if best.Status == domain.ObservationInGrace {
			e.Status = domain.EntitlementGrace
		} else {
			e.Status = domain.EntitlementActive
		}
		e.FeatureLimits = domain.LimitsForTier(tier)
		return Resolution{Entitlement: e, SupersededIDs: superseded}
	}

	if ends, ok := trialWindow(in); ok {
		e.Tier = in.Strategy.TrialTier
		e.Status = domain.EntitlementTrial
		e.TrialEndsAt = ends
		e.FeatureLimits = domain.LimitsForTier(e.Tier)
		return Resolution{Entitlement: e, SupersededIDs: superseded}
	}

	e.Tier = domain.TierFree
	e.Status = domain.EntitlementExpired
	e.FeatureLimits = domain.LimitsForTier(domain.TierFree)
	return Resolution{Entitlement: e, SupersededIDs: superseded}
}

// pickWinners filters the log to contributing observations, reduces those to
// one per logical product, and collects the ids of the contributing losers
// for bookkeeping. Non-contributing rows are simply ignored: an expired or
// elapsed record is not authoritative over a concurrent active one and is
// never flagged superseded by it.
func pickWinners(obs []domain.SubscriptionObservation, now time.Time) ([]domain.SubscriptionObservation, []uuid.UUID) {
	byProduct := make(map[string][]domain.SubscriptionObservation)
	for _, o := range obs {
		if o.LogicalProductID == "" || o.LogicalProductID == domain.UnclassifiedProduct {
			continue
		}
		if !o.Contributing(now) {
			continue
		}
		byProduct[o.LogicalProductID] = append(byProduct[o.LogicalProductID], o)
	}

	var winners []domain.SubscriptionObservation
	var superseded []uuid.UUID
	for _, group := range byProduct {
		sort.SliceStable(group, func(i, j int) bool {
			return newerObservation(group[i], group[j])
		})
		winners = append(winners, group[0])
		for _, loser := range group[1:] {
			superseded = append(superseded, loser.ID)
		}
	}
	return winners, superseded
}

// newerObservation ranks a before b within one product: later observed_at
// first, verified store before the aggregator on exact ties.
func newerObservation(a, b domain.SubscriptionObservation) bool {
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	return a.Store.Verified() && !b.Store.Verified()
}

// pickBest selects the winner with the highest tier.
func pickBest(winners []domain.SubscriptionObservation, tierFor func(string) (domain.Tier, bool)) *domain.SubscriptionObservation {
	var best *domain.SubscriptionObservation
	var bestTier domain.Tier

	for i := range winners {
		o := winners[i]
		tier, ok := tierFor(o.LogicalProductID)
		if !ok {
			continue
		}
		if best == nil || tier.Rank() > bestTier.Rank() ||
			(tier.Rank() == bestTier.Rank() && betterOnTie(o, *best)) {
			best = &winners[i]
			bestTier = tier
		}
	}
	return best
}

// betterOnTie breaks equal tiers: later period end wins, a nil period end
// (lifetime product) beats any dated one, verified stores beat the aggregator.
func betterOnTie(a, b domain.SubscriptionObservation) bool {
	switch {
	case a.CurrentPeriodEnd == nil && b.CurrentPeriodEnd != nil:
		return true
	case a.CurrentPeriodEnd != nil && b.CurrentPeriodEnd == nil:
		return false
	case a.CurrentPeriodEnd != nil && b.CurrentPeriodEnd != nil &&
		!a.CurrentPeriodEnd.Equal(*b.CurrentPeriodEnd):
		return a.CurrentPeriodEnd.After(*b.CurrentPeriodEnd)
	}
	return a.Store.Verified() && !b.Store.Verified()
}

// trialWindow reports whether the account is still inside its trial and, for
// calendar trials, when it ends.
func trialWindow(in ResolveInput) (*time.Time, bool) {
	switch in.Strategy.TrialType {
	case domain.TrialCalendar:
		if in.Strategy.TrialDays <= 0 {
			return nil, false
		}
		ends := in.Account.SignedUpAt.AddDate(0, 0, in.Strategy.TrialDays)
		if in.Now.Before(ends) {
			return &ends, true
		}
		return nil, false
	case domain.TrialUsage:
		if in.Strategy.TrialUsageMinutes <= 0 {
			return nil, false
		}
		if in.Usage.TotalActiveMinutes < in.Strategy.TrialUsageMinutes {
			return nil, true
		}
		return nil, false
	}
	return nil, false
}
