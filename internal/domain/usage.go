package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UsageCounter accumulates per-user usage for usage-gated trial policies.
// Monotonically non-decreasing except on explicit admin reset.
type UsageCounter struct {
	UserID             uuid.UUID
	TotalActiveMinutes int64
	TotalSessions      int64
	LastSessionAt      *time.Time
	UpdatedAt          time.Time
}

// UsageStore persists usage counters. Increments are atomic at the storage
// layer so concurrent session-end events for the same user never lose updates.
type UsageStore interface {
	// Increment adds the given minutes/sessions in a single atomic
	// increment-in-place and returns the counter after the update.
	Increment(ctx context.Context, userID uuid.UUID, minutes, sessions int64, at time.Time) (UsageCounter, error)

	// Get returns the user's counter; a user with no recorded usage gets
	// a zero counter, not ENOTFOUND.
	Get(ctx context.Context, userID uuid.UUID) (UsageCounter, error)

	// Reset zeroes the counter. Admin-only operation.
	Reset(ctx context.Context, userID uuid.UUID) error
}

// Account is the minimal user record the engine needs: trial windows are
// anchored on the signup time, strategies are scoped by signup platform.
type Account struct {
	ID         uuid.UUID
	Email      string
	Platform   string // "web", "ios", "android"
	SignedUpAt time.Time
}

// AccountStore reads accounts and records store-account links.
type AccountStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*Account, error)

	// LinkStoreAccount records that a store-scoped account id belongs to
	// the user. Idempotent on repeat links.
	LinkStoreAccount(ctx context.Context, store Store, storeAccountID string, userID uuid.UUID) error

	// UserForStoreAccount resolves a previously linked store account to its
	// user, or nil when no link exists.
	UserForStoreAccount(ctx context.Context, store Store, storeAccountID string) (*uuid.UUID, error)
}
