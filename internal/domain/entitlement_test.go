package domain

import (
	"testing"
	"time"
)

func TestTier_Rank(t *testing.T) {
	if TierFree.Rank() >= TierCore.Rank() ||
		TierCore.Rank() >= TierPro.Rank() ||
		TierPro.Rank() >= TierTeam.Rank() {
		t.Error("tiers must order free < core < pro < team")
	}
	if Tier("platinum").Rank() != -1 {
		t.Errorf("unknown tier rank = %d, want -1", Tier("platinum").Rank())
	}
}

func TestMaxTier(t *testing.T) {
	tests := []struct {
		a, b, expected Tier
	}{
		{TierFree, TierPro, TierPro},
		{TierTeam, TierCore, TierTeam},
		{TierCore, TierCore, TierCore},
		{Tier("platinum"), TierFree, TierFree},
	}

	for _, tt := range tests {
		if got := MaxTier(tt.a, tt.b); got != tt.expected {
			t.Errorf("MaxTier(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.expected)
		}
	}
}

func TestLimitsForTier_ReturnsACopy(t *testing.T) {
	limits := LimitsForTier(TierFree)
	limits[FeatureContacts] = 999999

	if LimitsForTier(TierFree)[FeatureContacts] == 999999 {
		t.Error("mutating a returned limits map must not affect the table")
	}

	// Unknown tiers degrade to free limits.
	if got := LimitsForTier(Tier("platinum"))[FeaturePipelines]; got != 1 {
		t.Errorf("unknown tier pipelines limit = %d, want 1", got)
	}
}

func TestEntitlement_HasFeatureAccess(t *testing.T) {
	e := Entitlement{
		Tier: TierPro,
		FeatureLimits: FeatureLimits{
			FeatureContacts:  Unlimited,
			FeatureTeamSeats: 3,
			"beta_flag":      0,
		},
	}

	tests := []struct {
		feature  string
		expected bool
	}{
		{FeatureContacts, true},
		{FeatureTeamSeats, true},
		{"beta_flag", false},
		{"call_recording", true}, // absent from the table means ungated
	}

	for _, tt := range tests {
		if got := e.HasFeatureAccess(tt.feature); got != tt.expected {
			t.Errorf("HasFeatureAccess(%q) = %v, want %v", tt.feature, got, tt.expected)
		}
	}
}

func TestSubscriptionObservation_Contributing(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name     string
		obs      SubscriptionObservation
		expected bool
	}{
		{
			name:     "active inside period",
			obs:      SubscriptionObservation{Status: ObservationActive, CurrentPeriodEnd: &future},
			expected: true,
		},
		{
			name:     "in grace inside period",
			obs:      SubscriptionObservation{Status: ObservationInGrace, CurrentPeriodEnd: &future},
			expected: true,
		},
		{
			name:     "lifetime product has no period end",
			obs:      SubscriptionObservation{Status: ObservationActive},
			expected: true,
		},
		{
			name:     "elapsed period end",
			obs:      SubscriptionObservation{Status: ObservationActive, CurrentPeriodEnd: &past},
			expected: false,
		},
		{
			name:     "period end exactly now",
			obs:      SubscriptionObservation{Status: ObservationActive, CurrentPeriodEnd: &now},
			expected: false,
		},
		{
			name:     "expired status",
			obs:      SubscriptionObservation{Status: ObservationExpired, CurrentPeriodEnd: &future},
			expected: false,
		},
		{
			name:     "canceled status",
			obs:      SubscriptionObservation{Status: ObservationCanceled, CurrentPeriodEnd: &future},
			expected: false,
		},
		{
			name:     "superseded",
			obs:      SubscriptionObservation{Status: ObservationActive, CurrentPeriodEnd: &future, Superseded: true},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.obs.Contributing(now); got != tt.expected {
				t.Errorf("Contributing() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStore_Verified(t *testing.T) {
	for _, s := range []Store{StoreCard, StoreAppStore, StorePlayStore} {
		if !s.Verified() {
			t.Errorf("%s should be a verified store", s)
		}
	}
	if StoreAggregatorSync.Verified() {
		t.Error("aggregator sync must not count as verified")
	}
}
