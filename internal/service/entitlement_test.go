package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// mockCache is an in-memory EntitlementCache with optional failure injection.
type mockCache struct {
	entries map[uuid.UUID]domain.Entitlement

	getErr error
	setErr error

	setCalls int
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[uuid.UUID]domain.Entitlement)}
}

func (c *mockCache) Get(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	e, ok := c.entries[userID]
	if !ok {
		return nil, errors.New("miss")
	}
	return &e, nil
}

func (c *mockCache) Set(ctx context.Context, e domain.Entitlement) error {
	c.setCalls++
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[e.UserID] = e
	return nil
}

func (c *mockCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	delete(c.entries, userID)
	return nil
}

func Test_Recompute_PersistsDerivedEntitlement(t *testing.T) {
	env := newTestEnv(domain.DefaultPaywallStrategy)
	userID := env.addAccount("web", time.Now().UTC().AddDate(0, -6, 0))

	periodEnd := time.Now().UTC().AddDate(0, 1, 0)
	env.obs.rows = append(env.obs.rows, domain.SubscriptionObservation{
		ID:               uuid.New(),
		Store:            domain.StoreCard,
		ExternalTxID:     "sub_123",
		UserID:           &userID,
		LogicalProductID: "everreach.pro",
		Status:           domain.ObservationActive,
		CurrentPeriodEnd: &periodEnd,
		ObservedAt:       time.Now().UTC().Add(-time.Hour),
	})

	e, err := env.entitlements.Recompute(context.Background(), userID, TriggerWebhook)
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, e.Tier)
	assert.Equal(t, domain.EntitlementActive, e.Status)

	stored, err := env.entStore.Current(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, stored.ID)
}

func Test_Recompute_MarksLosersSupersededInStore(t *testing.T) {
	env := newTestEnv(domain.DefaultPaywallStrategy)
	userID := env.addAccount("web", time.Now().UTC().AddDate(0, -6, 0))

	now := time.Now().UTC()
	future := now.AddDate(0, 1, 0)
	older := domain.SubscriptionObservation{
		ID: uuid.New(), Store: domain.StoreCard, ExternalTxID: "sub_old",
		UserID: &userID, LogicalProductID: "everreach.pro",
		Status: domain.ObservationActive, CurrentPeriodEnd: &future,
		ObservedAt: now.Add(-48 * time.Hour),
	}
	newer := domain.SubscriptionObservation{
		ID: uuid.New(), Store: domain.StoreAppStore, ExternalTxID: "txn_new",
		UserID: &userID, LogicalProductID: "everreach.pro",
		Status: domain.ObservationActive, CurrentPeriodEnd: &future,
		ObservedAt: now.Add(-time.Hour),
	}
	env.obs.rows = append(env.obs.rows, older, newer)

	_, err := env.entitlements.Recompute(context.Background(), userID, TriggerWebhook)
	require.NoError(t, err)

	assert.True(t, env.obs.find(domain.StoreCard, "sub_old").Superseded)
	assert.False(t, env.obs.find(domain.StoreAppStore, "txn_new").Superseded)
}

func Test_Recompute_PublishesEventOnlyOnChange(t *testing.T) {
	env := newTestEnv(domain.DefaultPaywallStrategy)
	userID := env.addAccount("web", time.Now().UTC().AddDate(0, -6, 0))

	// First compute: free/expired is a change from having nothing.
	_, err := env.entitlements.Recompute(context.Background(), userID, TriggerSweep)
	require.NoError(t, err)
	require.Len(t, env.publisher.events, 1)
	assert.Equal(t, domain.TierFree, env.publisher.events[0].Tier)

	// Same inputs again: no transition, no event.
	_, err = env.entitlements.Recompute(context.Background(), userID, TriggerSweep)
	require.NoError(t, err)
	assert.Len(t, env.publisher.events, 1)
}

func Test_Recompute_RefreshesCache(t *testing.T) {
	env := newTestEnv(domain.DefaultPaywallStrategy)
	cache := newMockCache()
	env.entitlements = NewEntitlementService(
		env.entStore, cache, env.publisher, env.catalog,
		stubStrategies{strategy: domain.DefaultPaywallStrategy}, nil, testLogger())

	userID := env.addAccount("web", time.Now().UTC().AddDate(0, -6, 0))

	e, err := env.entitlements.Recompute(context.Background(), userID, TriggerAdmin)
	require.NoError(t, err)

	cached, cerr := cache.Get(context.Background(), userID)
	require.NoError(t, cerr)
	assert.Equal(t, e.ID, cached.ID)
}

func Test_Recompute_CacheFailureDoesNotFailRequest(t *testing.T) {
	env := newTestEnv(domain.DefaultPaywallStrategy)
	cache := newMockCache()
	cache.setErr = errors.New("redis down")
	env.entitlements = NewEntitlementService(
		env.entStore, cache, env.publisher, env.catalog,
		stubStrategies{strategy: domain.DefaultPaywallStrategy}, nil, testLogger())

	userID := env.addAccount("web", time.Now().UTC().AddDate(0, -6, 0))

	_, err := env.entitlements.Recompute(context.Background(), userID, TriggerAdmin)
	assert.NoError(t, err)
}

func Test_Get_ComputesOnFirstRead(t *testing.T) {
	env := newTestEnv(domain.DefaultPaywallStrategy)
	userID := env.addAccount("web", time.Now().UTC().AddDate(0, 0, -1))

	e, err := env.entitlements.Get(context.Background(), userID)
	require.NoError(t, err)

	// Fresh signup inside the default 7-day trial.
	assert.Equal(t, domain.EntitlementTrial, e.Status)
	assert.Equal(t, domain.TierCore, e.Tier)
	assert.Equal(t, 1, env.entStore.recomputeCalls)
}

func Test_Get_ServesStoredRowWithoutRecompute(t *testing.T) {
	env := newTestEnv(domain.DefaultPaywallStrategy)
	userID := env.addAccount("web", time.Now().UTC().AddDate(0, -6, 0))

	first, err := env.entitlements.Get(context.Background(), userID)
	require.NoError(t, err)

	second, err := env.entitlements.Get(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, env.entStore.recomputeCalls)
}

func Test_HasFeatureAccess_RespectsLimitsAndUnlimited(t *testing.T) {
	env := newTestEnv(domain.DefaultPaywallStrategy)
	userID := env.addAccount("web", time.Now().UTC().AddDate(0, -6, 0))

	now := time.Now().UTC()
	future := now.AddDate(0, 1, 0)
	env.obs.rows = append(env.obs.rows, domain.SubscriptionObservation{
		ID: uuid.New(), Store: domain.StoreCard, ExternalTxID: "sub_pro",
		UserID: &userID, LogicalProductID: "everreach.pro",
		Status: domain.ObservationActive, CurrentPeriodEnd: &future,
		ObservedAt: now,
	})

	ok, err := env.entitlements.HasFeatureAccess(context.Background(), userID, domain.FeatureContacts)
	require.NoError(t, err)
	assert.True(t, ok)

	// Ungated features are always allowed.
	ok, err = env.entitlements.HasFeatureAccess(context.Background(), userID, "call_recording")
	require.NoError(t, err)
	assert.True(t, ok)
}

func Test_History_ReturnsPastRows(t *testing.T) {
	env := newTestEnv(domain.DefaultPaywallStrategy)
	userID := env.addAccount("web", time.Now().UTC().AddDate(0, -6, 0))

	_, err := env.entitlements.Recompute(context.Background(), userID, TriggerSweep)
	require.NoError(t, err)
	_, err = env.entitlements.Recompute(context.Background(), userID, TriggerSweep)
	require.NoError(t, err)

	history, err := env.entitlements.History(context.Background(), userID, 50)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
