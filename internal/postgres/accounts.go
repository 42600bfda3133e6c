package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// AccountStore reads accounts and records store-account links.
type AccountStore struct {
	pool *pgxpool.Pool
}

var _ domain.AccountStore = (*AccountStore)(nil)

func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

func (s *AccountStore) Get(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	const op = "postgres.AccountStore.Get"

	a, err := getAccount(ctx, s.pool, userID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, domain.NotFound(op, "account", userID.String())
	}
	return a, nil
}

const linkStoreAccountSQL = `
INSERT INTO store_account_links (store, store_account_id, user_id)
VALUES ($1, $2, $3)
ON CONFLICT (store, store_account_id) DO UPDATE SET user_id = EXCLUDED.user_id`

func (s *AccountStore) LinkStoreAccount(ctx context.Context, store domain.Store, storeAccountID string, userID uuid.UUID) error {
	const op = "postgres.AccountStore.LinkStoreAccount"

	_, err := s.pool.Exec(ctx, linkStoreAccountSQL, store, storeAccountID, userID)
	if err != nil {
		return domain.Internal(err, op, "failed to link store account")
	}
	return nil
}

const userForStoreAccountSQL = `
SELECT user_id
FROM store_account_links
WHERE store = $1 AND store_account_id = $2`

func (s *AccountStore) UserForStoreAccount(ctx context.Context, store domain.Store, storeAccountID string) (*uuid.UUID, error) {
	const op = "postgres.AccountStore.UserForStoreAccount"

	var userID uuid.UUID
	err := s.pool.QueryRow(ctx, userForStoreAccountSQL, store, storeAccountID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to resolve store account")
	}
	return &userID, nil
}

const getAccountSQL = `
SELECT id, email, platform, signed_up_at
FROM accounts
WHERE id = $1`

// getAccount reads an account through a pool or an open transaction.
// Returns (nil, nil) when the account does not exist.
func getAccount(ctx context.Context, q rowQuerier, userID uuid.UUID) (*domain.Account, error) {
	const op = "postgres.getAccount"

	var a domain.Account
	err := q.QueryRow(ctx, getAccountSQL, userID).Scan(&a.ID, &a.Email, &a.Platform, &a.SignedUpAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load account")
	}
	return &a, nil
}
