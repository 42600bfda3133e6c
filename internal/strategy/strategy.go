// Package strategy provides the paywall strategy lookup: platform-scoped
// configuration read with viper, with a hardcoded safe default when the
// configuration is unreachable or has no row for the platform.
package strategy

import (
	"log/slog"

	"github.com/spf13/viper"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// Provider implements domain.StrategyProvider over a viper config tree.
// Safe for unsynchronized concurrent reads after construction.
type Provider struct {
	strategies map[string]domain.PaywallStrategy
	logger     *slog.Logger
}

var _ domain.StrategyProvider = (*Provider)(nil)

// strategyEntry is the config-file shape of one platform strategy.
type strategyEntry struct {
	Platform          string   `mapstructure:"platform"`
	Soft              bool     `mapstructure:"soft"`
	GatedFeatures     []string `mapstructure:"gated_features"`
	TrialType         string   `mapstructure:"trial_type"`
	TrialDays         int      `mapstructure:"trial_days"`
	TrialUsageMinutes int64    `mapstructure:"trial_usage_minutes"`
	TrialTier         string   `mapstructure:"trial_tier"`
}

// New builds a Provider from the "paywall" config section. A missing or
// malformed section is not fatal: every lookup then resolves to the default
// strategy, and the condition is logged once here.
func New(v *viper.Viper, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Provider{
		strategies: make(map[string]domain.PaywallStrategy),
		logger:     logger,
	}

	if v == nil || !v.IsSet("paywall") {
		logger.Warn("no paywall strategy configuration found, all platforms use the safe default")
		return p
	}

	var entries []strategyEntry
	if err := v.UnmarshalKey("paywall", &entries); err != nil {
		logger.Error("failed to parse paywall strategy configuration, using safe default", "error", err)
		return p
	}

	for _, e := range entries {
		s, err := fromEntry(e)
		if err != nil {
			logger.Error("skipping invalid paywall strategy", "platform", e.Platform, "error", err)
			continue
		}
		p.strategies[e.Platform] = s
	}

	return p
}

func fromEntry(e strategyEntry) (domain.PaywallStrategy, error) {
	trialType := domain.TrialType(e.TrialType)
	if trialType != domain.TrialCalendar && trialType != domain.TrialUsage {
		return domain.PaywallStrategy{}, domain.Errorf(domain.EINVALID, "strategy.load", "unknown trial type: %s", e.TrialType)
	}

	tier := domain.Tier(e.TrialTier)
	if !tier.Valid() {
		return domain.PaywallStrategy{}, domain.Errorf(domain.EINVALID, "strategy.load", "unknown trial tier: %s", e.TrialTier)
	}

	if trialType == domain.TrialCalendar && e.TrialDays <= 0 {
		return domain.PaywallStrategy{}, domain.Errorf(domain.EINVALID, "strategy.load", "calendar trial requires positive trial_days")
	}
	if trialType == domain.TrialUsage && e.TrialUsageMinutes <= 0 {
		return domain.PaywallStrategy{}, domain.Errorf(domain.EINVALID, "strategy.load", "usage trial requires positive trial_usage_minutes")
	}

	return domain.PaywallStrategy{
		Platform:          e.Platform,
		Soft:              e.Soft,
		GatedFeatures:     e.GatedFeatures,
		TrialType:         trialType,
		TrialDays:         e.TrialDays,
		TrialUsageMinutes: e.TrialUsageMinutes,
		TrialTier:         tier,
	}, nil
}

// ActiveStrategy returns the strategy configured for the platform, or the
// hardcoded safe default when none matches.
func (p *Provider) ActiveStrategy(platform string) domain.PaywallStrategy {
	if s, ok := p.strategies[platform]; ok {
		return s
	}
	return domain.DefaultPaywallStrategy
}
