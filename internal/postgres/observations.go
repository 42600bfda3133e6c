package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// ObservationStore persists subscription observations.
type ObservationStore struct {
	pool *pgxpool.Pool
}

var _ domain.ObservationStore = (*ObservationStore)(nil)

func NewObservationStore(pool *pgxpool.Pool) *ObservationStore {
	return &ObservationStore{pool: pool}
}

const upsertObservationSQL = `
INSERT INTO subscription_observations (
	id, store, external_tx_id, user_id, store_account_id,
	logical_product_id, status, current_period_end, raw_payload, observed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (store, external_tx_id) DO UPDATE SET
	user_id            = COALESCE(EXCLUDED.user_id, subscription_observations.user_id),
	store_account_id   = EXCLUDED.store_account_id,
	logical_product_id = EXCLUDED.logical_product_id,
	status             = EXCLUDED.status,
	current_period_end = EXCLUDED.current_period_end,
	raw_payload        = EXCLUDED.raw_payload,
	observed_at        = EXCLUDED.observed_at,
	superseded         = false
WHERE subscription_observations.observed_at <= EXCLUDED.observed_at
RETURNING id`

// Upsert writes an observation keyed by (store, external_tx_id). A replay
// carrying an older observed_at than the stored row is discarded; the bool
// reports whether the row was written.
func (s *ObservationStore) Upsert(ctx context.Context, obs domain.SubscriptionObservation) (bool, error) {
	const op = "postgres.ObservationStore.Upsert"

	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, upsertObservationSQL,
		obs.ID, obs.Store, obs.ExternalTxID, obs.UserID, obs.StoreAccountID,
		obs.LogicalProductID, obs.Status, obs.CurrentPeriodEnd, obs.RawPayload, obs.ObservedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.Internal(err, op, "failed to store observation")
	}
	return true, nil
}

const listObservationsSQL = `
SELECT id, store, external_tx_id, user_id, store_account_id,
	logical_product_id, status, current_period_end, raw_payload,
	observed_at, superseded, created_at
FROM subscription_observations
WHERE user_id = $1
ORDER BY observed_at DESC`

func (s *ObservationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.SubscriptionObservation, error) {
	const op = "postgres.ObservationStore.ListForUser"

	rows, err := s.pool.Query(ctx, listObservationsSQL, userID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list observations")
	}
	defer rows.Close()

	return scanObservations(rows, op)
}

const attachUserSQL = `
UPDATE subscription_observations
SET user_id = $3
WHERE store = $1 AND store_account_id = $2 AND user_id IS NULL`

// AttachUser claims previously anonymous observations for a store account
// and returns how many rows were claimed.
func (s *ObservationStore) AttachUser(ctx context.Context, store domain.Store, storeAccountID string, userID uuid.UUID) (int64, error) {
	const op = "postgres.ObservationStore.AttachUser"

	tag, err := s.pool.Exec(ctx, attachUserSQL, store, storeAccountID, userID)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to attach observations")
	}
	return tag.RowsAffected(), nil
}

func scanObservations(rows pgx.Rows, op string) ([]domain.SubscriptionObservation, error) {
	var out []domain.SubscriptionObservation
	for rows.Next() {
		var obs domain.SubscriptionObservation
		err := rows.Scan(
			&obs.ID, &obs.Store, &obs.ExternalTxID, &obs.UserID, &obs.StoreAccountID,
			&obs.LogicalProductID, &obs.Status, &obs.CurrentPeriodEnd, &obs.RawPayload,
			&obs.ObservedAt, &obs.Superseded, &obs.CreatedAt,
		)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to scan observation")
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to read observations")
	}
	return out, nil
}
