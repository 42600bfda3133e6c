package webhook

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/IsaiahDupree/everreach/internal/catalog"
	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/service"
	"github.com/IsaiahDupree/everreach/internal/verify"
)

// recordingObservationStore captures upserts without persistence semantics.
type recordingObservationStore struct {
	upserts []domain.SubscriptionObservation
}

func (s *recordingObservationStore) Upsert(ctx context.Context, obs domain.SubscriptionObservation) (bool, error) {
	s.upserts = append(s.upserts, obs)
	return true, nil
}

func (s *recordingObservationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.SubscriptionObservation, error) {
	return nil, nil
}

func (s *recordingObservationStore) AttachUser(ctx context.Context, store domain.Store, storeAccountID string, userID uuid.UUID) (int64, error) {
	return 0, nil
}

type stubAccountStore struct{}

func (stubAccountStore) Get(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	return nil, domain.NotFound("account.get", "account", userID.String())
}

func (stubAccountStore) LinkStoreAccount(ctx context.Context, store domain.Store, storeAccountID string, userID uuid.UUID) error {
	return nil
}

func (stubAccountStore) UserForStoreAccount(ctx context.Context, store domain.Store, storeAccountID string) (*uuid.UUID, error) {
	return nil, nil
}

type stubEntitlementStore struct{}

func (stubEntitlementStore) Current(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	return nil, domain.NotFound("entitlement.current", "entitlement", userID.String())
}

func (stubEntitlementStore) History(ctx context.Context, userID uuid.UUID, limit int32) ([]domain.Entitlement, error) {
	return nil, nil
}

func (stubEntitlementStore) RecomputeUnderLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx domain.RecomputeTx) error) error {
	return nil
}

func (stubEntitlementStore) UsersNeedingRecompute(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	return nil, nil
}

type stubStrategies struct{}

func (stubStrategies) ActiveStrategy(platform string) domain.PaywallStrategy {
	return domain.DefaultPaywallStrategy
}

// newTestIngest wires an IngestService over recording stores. Metrics stay
// nil so repeated construction never re-registers Prometheus collectors.
func newTestIngest(t *testing.T, verifier verify.Verifier) (*service.IngestService, *recordingObservationStore) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	obs := &recordingObservationStore{}
	entitlements := service.NewEntitlementService(
		stubEntitlementStore{}, nil, nil, catalog.New(), stubStrategies{}, nil, logger)

	ingest := service.NewIngestService(
		map[domain.Store]verify.Verifier{
			domain.StoreCard:      verifier,
			domain.StoreAppStore:  verifier,
			domain.StorePlayStore: verifier,
		},
		obs, stubAccountStore{}, entitlements, catalog.New(), nil, logger)

	return ingest, obs
}

// activeVerifier reports every referenced purchase as active for 30 days.
func activeVerifier(store domain.Store) *verify.MockVerifier {
	return &verify.MockVerifier{
		VerifyFunc: func(ctx context.Context, ref verify.Ref) (*verify.VerifiedPurchase, error) {
			expires := time.Now().UTC().Add(30 * 24 * time.Hour)
			txID := ref.SubscriptionID
			if txID == "" {
				txID = ref.PurchaseToken
			}
			return &verify.VerifiedPurchase{
				Store:        store,
				ExternalTxID: txID,
				StoreSKU:     ref.StoreSKU,
				ExpiresAt:    &expires,
				VerifiedAt:   time.Now().UTC(),
			}, nil
		},
	}
}
