package domain

// TrialType selects how a trial window is bounded.
type TrialType string

const (
	// TrialCalendar bounds the trial by days since signup.
	TrialCalendar TrialType = "calendar"

	// TrialUsage bounds the trial by cumulative usage counters.
	TrialUsage TrialType = "usage"
)

// PaywallStrategy is platform-scoped configuration describing which features
// are gated, the trial policy, and fallback behavior. Consumed, never
// computed, by the entitlement resolver.
type PaywallStrategy struct {
	// Platform the strategy applies to: "web", "ios", "android".
	Platform string

	// Soft means gates are enabled but non-blocking (UX-level nudges only).
	Soft bool

	// GatedFeatures lists the feature keys the paywall applies to.
	GatedFeatures []string

	// TrialType selects calendar- or usage-bounded trials.
	TrialType TrialType

	// TrialDays is the calendar trial length. Only read when
	// TrialType == TrialCalendar.
	TrialDays int

	// TrialUsageMinutes is the active-minutes budget for usage trials.
	// Only read when TrialType == TrialUsage.
	TrialUsageMinutes int64

	// TrialTier is the tier granted during the trial window.
	TrialTier Tier
}

// DefaultPaywallStrategy is the hardcoded safe fallback used whenever the
// strategy configuration is unreachable or has no row for the platform:
// soft paywall, 7-day calendar trial. The product stays usable and nobody is
// silently granted a paid tier by a configuration outage.
var DefaultPaywallStrategy = PaywallStrategy{
	Platform:      "default",
	Soft:          true,
	GatedFeatures: []string{FeatureContacts, FeaturePipelines, FeatureMessageTemplates},
	TrialType:     TrialCalendar,
	TrialDays:     7,
	TrialTier:     TierCore,
}

// StrategyProvider looks up the active paywall strategy for a platform.
// Implementations fall back to DefaultPaywallStrategy on any failure.
type StrategyProvider interface {
	ActiveStrategy(platform string) PaywallStrategy
}
