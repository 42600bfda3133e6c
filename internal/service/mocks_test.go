package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/IsaiahDupree/everreach/internal/catalog"
	"github.com/IsaiahDupree/everreach/internal/domain"
)

// =============================================================================
// IN-MEMORY STORES
// =============================================================================

// mockObservationStore keeps the observation log in memory with the same
// compare-and-set upsert semantics as the Postgres store.
type mockObservationStore struct {
	rows []domain.SubscriptionObservation

	upsertErr     error
	upsertCalls   int
	attachedCalls int
}

func (m *mockObservationStore) Upsert(ctx context.Context, obs domain.SubscriptionObservation) (bool, error) {
	m.upsertCalls++
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	for i, existing := range m.rows {
		if existing.Store == obs.Store && existing.ExternalTxID == obs.ExternalTxID {
			if existing.ObservedAt.After(obs.ObservedAt) {
				return false, nil
			}
			obs.ID = existing.ID
			if obs.UserID == nil {
				obs.UserID = existing.UserID
			}
			obs.Superseded = false
			m.rows[i] = obs
			return true, nil
		}
	}
	m.rows = append(m.rows, obs)
	return true, nil
}

func (m *mockObservationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.SubscriptionObservation, error) {
	var out []domain.SubscriptionObservation
	for _, o := range m.rows {
		if o.UserID != nil && *o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockObservationStore) AttachUser(ctx context.Context, store domain.Store, storeAccountID string, userID uuid.UUID) (int64, error) {
	m.attachedCalls++
	var n int64
	for i, o := range m.rows {
		if o.Store == store && o.StoreAccountID == storeAccountID && o.UserID == nil {
			id := userID
			m.rows[i].UserID = &id
			n++
		}
	}
	return n, nil
}

func (m *mockObservationStore) find(store domain.Store, externalTxID string) *domain.SubscriptionObservation {
	for i := range m.rows {
		if m.rows[i].Store == store && m.rows[i].ExternalTxID == externalTxID {
			return &m.rows[i]
		}
	}
	return nil
}

// mockUsageStore keeps usage counters in memory.
type mockUsageStore struct {
	counters map[uuid.UUID]domain.UsageCounter

	incrementErr error
}

func newMockUsageStore() *mockUsageStore {
	return &mockUsageStore{counters: make(map[uuid.UUID]domain.UsageCounter)}
}

func (m *mockUsageStore) Increment(ctx context.Context, userID uuid.UUID, minutes, sessions int64, at time.Time) (domain.UsageCounter, error) {
	if m.incrementErr != nil {
		return domain.UsageCounter{}, m.incrementErr
	}
	c := m.counters[userID]
	c.UserID = userID
	c.TotalActiveMinutes += minutes
	c.TotalSessions += sessions
	if c.LastSessionAt == nil || at.After(*c.LastSessionAt) {
		t := at
		c.LastSessionAt = &t
	}
	c.UpdatedAt = time.Now()
	m.counters[userID] = c
	return c, nil
}

func (m *mockUsageStore) Get(ctx context.Context, userID uuid.UUID) (domain.UsageCounter, error) {
	c, ok := m.counters[userID]
	if !ok {
		return domain.UsageCounter{UserID: userID}, nil
	}
	return c, nil
}

func (m *mockUsageStore) Reset(ctx context.Context, userID uuid.UUID) error {
	m.counters[userID] = domain.UsageCounter{UserID: userID, UpdatedAt: time.Now()}
	return nil
}

// mockAccountStore keeps accounts and store-account links in memory.
type mockAccountStore struct {
	accounts map[uuid.UUID]domain.Account
	links    map[string]uuid.UUID

	linkCalls int
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{
		accounts: make(map[uuid.UUID]domain.Account),
		links:    make(map[string]uuid.UUID),
	}
}

func linkKey(store domain.Store, storeAccountID string) string {
	return string(store) + "|" + storeAccountID
}

func (m *mockAccountStore) Get(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	a, ok := m.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (m *mockAccountStore) LinkStoreAccount(ctx context.Context, store domain.Store, storeAccountID string, userID uuid.UUID) error {
	m.linkCalls++
	m.links[linkKey(store, storeAccountID)] = userID
	return nil
}

func (m *mockAccountStore) UserForStoreAccount(ctx context.Context, store domain.Store, storeAccountID string) (*uuid.UUID, error) {
	id, ok := m.links[linkKey(store, storeAccountID)]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

// mockEntitlementStore keeps one current row per user plus history, and runs
// recompute callbacks over the other in-memory stores without real locking.
type mockEntitlementStore struct {
	obs      *mockObservationStore
	usage    *mockUsageStore
	accounts *mockAccountStore

	current map[uuid.UUID]domain.Entitlement
	history map[uuid.UUID][]domain.Entitlement

	recomputeCalls int
}

func newMockEntitlementStore(obs *mockObservationStore, usage *mockUsageStore, accounts *mockAccountStore) *mockEntitlementStore {
	return &mockEntitlementStore{
		obs:      obs,
		usage:    usage,
		accounts: accounts,
		current:  make(map[uuid.UUID]domain.Entitlement),
		history:  make(map[uuid.UUID][]domain.Entitlement),
	}
}

func (m *mockEntitlementStore) Current(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	e, ok := m.current[userID]
	if !ok {
		return nil, ErrEntitlementNotFound
	}
	return &e, nil
}

func (m *mockEntitlementStore) History(ctx context.Context, userID uuid.UUID, limit int32) ([]domain.Entitlement, error) {
	h := m.history[userID]
	if limit > 0 && int(limit) < len(h) {
		h = h[len(h)-int(limit):]
	}
	out := make([]domain.Entitlement, 0, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

func (m *mockEntitlementStore) RecomputeUnderLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx domain.RecomputeTx) error) error {
	m.recomputeCalls++
	return fn(ctx, &mockRecomputeTx{store: m, userID: userID})
}

func (m *mockEntitlementStore) UsersNeedingRecompute(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	return nil, nil
}

type mockRecomputeTx struct {
	store  *mockEntitlementStore
	userID uuid.UUID
}

func (tx *mockRecomputeTx) Observations(ctx context.Context) ([]domain.SubscriptionObservation, error) {
	return tx.store.obs.ListForUser(ctx, tx.userID)
}

func (tx *mockRecomputeTx) Usage(ctx context.Context) (domain.UsageCounter, error) {
	return tx.store.usage.Get(ctx, tx.userID)
}

func (tx *mockRecomputeTx) Account(ctx context.Context) (domain.Account, error) {
	a, err := tx.store.accounts.Get(ctx, tx.userID)
	if err != nil {
		return domain.Account{}, err
	}
	return *a, nil
}

func (tx *mockRecomputeTx) MarkSuperseded(ctx context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		for i := range tx.store.obs.rows {
			if tx.store.obs.rows[i].ID == id {
				tx.store.obs.rows[i].Superseded = true
			}
		}
	}
	return nil
}

func (tx *mockRecomputeTx) SaveEntitlement(ctx context.Context, e domain.Entitlement) error {
	tx.store.current[tx.userID] = e
	tx.store.history[tx.userID] = append(tx.store.history[tx.userID], e)
	return nil
}

// =============================================================================
// STUBS
// =============================================================================

// stubStrategies returns one fixed strategy for every platform.
type stubStrategies struct {
	strategy domain.PaywallStrategy
}

func (s stubStrategies) ActiveStrategy(platform string) domain.PaywallStrategy {
	return s.strategy
}

// recordingPublisher captures published entitlement events.
type recordingPublisher struct {
	events []domain.Entitlement
}

func (p *recordingPublisher) EntitlementUpdated(ctx context.Context, e domain.Entitlement) {
	p.events = append(p.events, e)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// TEST ENVIRONMENT
// =============================================================================

// testEnv wires an EntitlementService over the in-memory stores with the
// compiled-in catalog and a fixed strategy. Metrics stay nil so repeated
// construction never re-registers Prometheus collectors.
type testEnv struct {
	obs       *mockObservationStore
	usage     *mockUsageStore
	accounts  *mockAccountStore
	entStore  *mockEntitlementStore
	publisher *recordingPublisher
	catalog   *catalog.Mapper

	entitlements *EntitlementService
}

func newTestEnv(strategy domain.PaywallStrategy) *testEnv {
	env := &testEnv{
		obs:       &mockObservationStore{},
		usage:     newMockUsageStore(),
		accounts:  newMockAccountStore(),
		publisher: &recordingPublisher{},
		catalog:   catalog.New(),
	}
	env.entStore = newMockEntitlementStore(env.obs, env.usage, env.accounts)
	env.entitlements = NewEntitlementService(
		env.entStore, nil, env.publisher, env.catalog,
		stubStrategies{strategy: strategy}, nil, testLogger())
	return env
}

// addAccount registers an account and returns its id.
func (env *testEnv) addAccount(platform string, signedUpAt time.Time) uuid.UUID {
	id := uuid.New()
	env.accounts.accounts[id] = domain.Account{
		ID:         id,
		Email:      "user@example.com",
		Platform:   platform,
		SignedUpAt: signedUpAt,
	}
	return id
}
