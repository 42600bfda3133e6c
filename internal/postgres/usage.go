package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// UsageStore persists per-user usage counters.
type UsageStore struct {
	pool *pgxpool.Pool
}

var _ domain.UsageStore = (*UsageStore)(nil)

func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	return &UsageStore{pool: pool}
}

const incrementUsageSQL = `
INSERT INTO usage_counters (user_id, total_active_minutes, total_sessions, last_session_at, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (user_id) DO UPDATE SET
	total_active_minutes = usage_counters.total_active_minutes + EXCLUDED.total_active_minutes,
	total_sessions       = usage_counters.total_sessions + EXCLUDED.total_sessions,
	last_session_at      = GREATEST(usage_counters.last_session_at, EXCLUDED.last_session_at),
	updated_at           = now()
RETURNING user_id, total_active_minutes, total_sessions, last_session_at, updated_at`

// Increment adds minutes and sessions in a single increment-in-place, so
// concurrent session reports never lose updates.
func (s *UsageStore) Increment(ctx context.Context, userID uuid.UUID, minutes, sessions int64, at time.Time) (domain.UsageCounter, error) {
	const op = "postgres.UsageStore.Increment"

	var c domain.UsageCounter
	err := s.pool.QueryRow(ctx, incrementUsageSQL, userID, minutes, sessions, at).Scan(
		&c.UserID, &c.TotalActiveMinutes, &c.TotalSessions, &c.LastSessionAt, &c.UpdatedAt)
	if err != nil {
		return domain.UsageCounter{}, domain.Internal(err, op, "failed to record usage")
	}
	return c, nil
}

func (s *UsageStore) Get(ctx context.Context, userID uuid.UUID) (domain.UsageCounter, error) {
	return getUsage(ctx, s.pool, userID)
}

func (s *UsageStore) Reset(ctx context.Context, userID uuid.UUID) error {
	const op = "postgres.UsageStore.Reset"

	_, err := s.pool.Exec(ctx, `
		UPDATE usage_counters
		SET total_active_minutes = 0, total_sessions = 0, last_session_at = NULL, updated_at = now()
		WHERE user_id = $1`, userID)
	if err != nil {
		return domain.Internal(err, op, "failed to reset usage")
	}
	return nil
}

const getUsageSQL = `
SELECT user_id, total_active_minutes, total_sessions, last_session_at, updated_at
FROM usage_counters
WHERE user_id = $1`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// getUsage reads a counter through a pool or an open transaction. Users with
// no recorded usage get a zero counter.
func getUsage(ctx context.Context, q rowQuerier, userID uuid.UUID) (domain.UsageCounter, error) {
	const op = "postgres.getUsage"

	var c domain.UsageCounter
	err := q.QueryRow(ctx, getUsageSQL, userID).Scan(
		&c.UserID, &c.TotalActiveMinutes, &c.TotalSessions, &c.LastSessionAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UsageCounter{UserID: userID}, nil
	}
	if err != nil {
		return domain.UsageCounter{}, domain.Internal(err, op, "failed to load usage")
	}
	return c, nil
}
