package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// EntitlementStore persists derived entitlements, one current row per user
// with history retained.
type EntitlementStore struct {
	pool *pgxpool.Pool
}

var _ domain.EntitlementStore = (*EntitlementStore)(nil)

func NewEntitlementStore(pool *pgxpool.Pool) *EntitlementStore {
	return &EntitlementStore{pool: pool}
}

const currentEntitlementSQL = `
SELECT id, user_id, tier, status, source_store, feature_limits, computed_at, trial_ends_at
FROM entitlements
WHERE user_id = $1 AND is_current
LIMIT 1`

func (s *EntitlementStore) Current(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	const op = "postgres.EntitlementStore.Current"

	e, err := scanEntitlement(s.pool.QueryRow(ctx, currentEntitlementSQL, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(op, "entitlement", userID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load entitlement")
	}
	return e, nil
}

const entitlementHistorySQL = `
SELECT id, user_id, tier, status, source_store, feature_limits, computed_at, trial_ends_at
FROM entitlements
WHERE user_id = $1
ORDER BY computed_at DESC
LIMIT $2`

func (s *EntitlementStore) History(ctx context.Context, userID uuid.UUID, limit int32) ([]domain.Entitlement, error) {
	const op = "postgres.EntitlementStore.History"

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, entitlementHistorySQL, userID, limit)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load entitlement history")
	}
	defer rows.Close()

	var out []domain.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to scan entitlement")
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to read entitlement history")
	}
	return out, nil
}

// RecomputeUnderLock runs fn inside a transaction holding the user's advisory
// lock, serializing concurrent recomputations for the same user. The lock is
// released on commit or rollback.
func (s *EntitlementStore) RecomputeUnderLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx domain.RecomputeTx) error) error {
	const op = "postgres.EntitlementStore.RecomputeUnderLock"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('entitlement:' || $1::text))`, userID)
	if err != nil {
		return domain.Internal(err, op, "failed to acquire recompute lock")
	}

	rtx := &recomputeTx{tx: tx, userID: userID}
	if err := fn(ctx, rtx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Internal(err, op, "failed to commit recompute")
	}
	return nil
}

const usersNeedingRecomputeSQL = `
SELECT user_id FROM (
	SELECT DISTINCT o.user_id
	FROM subscription_observations o
	LEFT JOIN entitlements e ON e.user_id = o.user_id AND e.is_current
	WHERE o.user_id IS NOT NULL
	  AND (
		e.id IS NULL
		OR o.observed_at > e.computed_at
		OR (o.current_period_end IS NOT NULL AND o.current_period_end <= $1 AND NOT o.superseded AND o.status IN ('active', 'in_grace'))
	  )
	UNION
	SELECT e.user_id
	FROM entitlements e
	WHERE e.is_current
	  AND e.status = 'trial'
	  AND e.trial_ends_at IS NOT NULL
	  AND e.trial_ends_at <= $1
) stale
LIMIT $2`

// UsersNeedingRecompute finds users whose stored entitlement may be stale:
// newer observations, an elapsed period end on a still-active observation,
// or an elapsed trial window. The trial branch scans entitlements directly;
// a calendar-trial user typically has no observations at all.
func (s *EntitlementStore) UsersNeedingRecompute(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	const op = "postgres.EntitlementStore.UsersNeedingRecompute"

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, usersNeedingRecomputeSQL, now, limit)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to find stale entitlements")
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Internal(err, op, "failed to scan user id")
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to read stale users")
	}
	return out, nil
}

// recomputeTx exposes the reads and writes available while the advisory lock
// is held.
type recomputeTx struct {
	tx     pgx.Tx
	userID uuid.UUID
}

func (r *recomputeTx) Observations(ctx context.Context) ([]domain.SubscriptionObservation, error) {
	const op = "postgres.recomputeTx.Observations"

	rows, err := r.tx.Query(ctx, listObservationsSQL, r.userID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list observations")
	}
	defer rows.Close()

	return scanObservations(rows, op)
}

func (r *recomputeTx) Usage(ctx context.Context) (domain.UsageCounter, error) {
	return getUsage(ctx, r.tx, r.userID)
}

func (r *recomputeTx) Account(ctx context.Context) (domain.Account, error) {
	const op = "postgres.recomputeTx.Account"

	a, err := getAccount(ctx, r.tx, r.userID)
	if err != nil {
		return domain.Account{}, err
	}
	if a == nil {
		return domain.Account{}, domain.NotFound(op, "account", r.userID.String())
	}
	return *a, nil
}

func (r *recomputeTx) MarkSuperseded(ctx context.Context, ids []uuid.UUID) error {
	const op = "postgres.recomputeTx.MarkSuperseded"

	if len(ids) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx,
		`UPDATE subscription_observations SET superseded = true WHERE id = ANY($1)`, ids)
	if err != nil {
		return domain.Internal(err, op, "failed to mark observations superseded")
	}
	return nil
}

const insertEntitlementSQL = `
INSERT INTO entitlements (
	id, user_id, tier, status, source_store, feature_limits,
	computed_at, trial_ends_at, is_current
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true)`

func (r *recomputeTx) SaveEntitlement(ctx context.Context, e domain.Entitlement) error {
	const op = "postgres.recomputeTx.SaveEntitlement"

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	limits, err := json.Marshal(e.FeatureLimits)
	if err != nil {
		return domain.Internal(err, op, "failed to encode feature limits")
	}

	_, err = r.tx.Exec(ctx,
		`UPDATE entitlements SET is_current = false WHERE user_id = $1 AND is_current`, e.UserID)
	if err != nil {
		return domain.Internal(err, op, "failed to retire previous entitlement")
	}

	_, err = r.tx.Exec(ctx, insertEntitlementSQL,
		e.ID, e.UserID, e.Tier, e.Status, e.SourceStore, limits, e.ComputedAt, e.TrialEndsAt)
	if err != nil {
		return domain.Internal(err, op, "failed to save entitlement")
	}
	return nil
}

func scanEntitlement(row pgx.Row) (*domain.Entitlement, error) {
	var e domain.Entitlement
	var limits []byte
	err := row.Scan(&e.ID, &e.UserID, &e.Tier, &e.Status, &e.SourceStore,
		&limits, &e.ComputedAt, &e.TrialEndsAt)
	if err != nil {
		return nil, err
	}
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &e.FeatureLimits); err != nil {
			return nil, err
		}
	}
	return &e, nil
}
