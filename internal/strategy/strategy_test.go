package strategy

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

func Test_ActiveStrategy_MissingConfigFallsBackToDefault(t *testing.T) {
	p := New(viper.New(), nil)

	s := p.ActiveStrategy("ios")
	assert.Equal(t, domain.DefaultPaywallStrategy, s)
}

func Test_ActiveStrategy_ReadsPlatformStrategies(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
paywall:
  - platform: ios
    soft: false
    trial_type: usage
    trial_usage_minutes: 90
    trial_tier: core
    gated_features: [contacts, pipelines]
  - platform: web
    soft: true
    trial_type: calendar
    trial_days: 14
    trial_tier: pro
`)))

	p := New(v, nil)

	ios := p.ActiveStrategy("ios")
	assert.Equal(t, domain.TrialUsage, ios.TrialType)
	assert.EqualValues(t, 90, ios.TrialUsageMinutes)
	assert.Equal(t, domain.TierCore, ios.TrialTier)
	assert.False(t, ios.Soft)

	web := p.ActiveStrategy("web")
	assert.Equal(t, domain.TrialCalendar, web.TrialType)
	assert.Equal(t, 14, web.TrialDays)
	assert.Equal(t, domain.TierPro, web.TrialTier)

	// Platform without a row still resolves to the default.
	assert.Equal(t, domain.DefaultPaywallStrategy, p.ActiveStrategy("android"))
}

func Test_ActiveStrategy_InvalidEntrySkippedNotFatal(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
paywall:
  - platform: ios
    trial_type: lunar
    trial_tier: core
  - platform: web
    trial_type: calendar
    trial_days: 14
    trial_tier: core
`)))

	p := New(v, nil)

	// The broken ios row falls back to the default, the valid web row loads.
	assert.Equal(t, domain.DefaultPaywallStrategy, p.ActiveStrategy("ios"))
	assert.Equal(t, 14, p.ActiveStrategy("web").TrialDays)
}

func Test_ActiveStrategy_RejectsNonPositiveTrialBudgets(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
paywall:
  - platform: ios
    trial_type: usage
    trial_usage_minutes: 0
    trial_tier: core
`)))

	p := New(v, nil)
	assert.Equal(t, domain.DefaultPaywallStrategy, p.ActiveStrategy("ios"))
}
