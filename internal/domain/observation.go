package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Store identifies the payment platform an observation originated from.
type Store string

const (
	// StoreCard is the card-based billing provider (web checkout).
	StoreCard Store = "card_provider"

	// StoreAppStore is the Apple mobile-store billing provider.
	StoreAppStore Store = "app_store"

	// StorePlayStore is the Google mobile-store billing provider.
	StorePlayStore Store = "play_store"

	// StoreAggregatorSync is the client-reported aggregator snapshot.
	// Lowest-trust source: optimistic only, superseded by any verified store.
	StoreAggregatorSync Store = "aggregator_sync"
)

// Verified reports whether observations from this store were confirmed
// against the platform's verification API before being stored.
func (s Store) Verified() bool {
	return s != StoreAggregatorSync
}

// Valid reports whether s is a known store.
func (s Store) Valid() bool {
	switch s {
	case StoreCard, StoreAppStore, StorePlayStore, StoreAggregatorSync:
		return true
	}
	return false
}

// ObservationStatus is the normalized subscription state as reported by one
// store at one point in time.
type ObservationStatus string

const (
	ObservationActive   ObservationStatus = "active"
	ObservationCanceled ObservationStatus = "canceled"
	ObservationExpired  ObservationStatus = "expired"
	ObservationInGrace  ObservationStatus = "in_grace"
	ObservationPending  ObservationStatus = "pending"
	ObservationUnknown  ObservationStatus = "unknown"
)

// UnclassifiedProduct marks an observation whose store SKU had no catalog
// mapping. The observation is retained but contributes no tier.
const UnclassifiedProduct = "unclassified"

// SubscriptionObservation is one normalized, immutable record of a
// subscription state. Rows are never deleted; a redelivery under the same
// (store, external_tx_id) key either no-ops or corrects the payload in place.
type SubscriptionObservation struct {
	ID               uuid.UUID
	Store            Store
	ExternalTxID     string
	UserID           *uuid.UUID // nil until the store account is linked
	StoreAccountID   string
	LogicalProductID string
	Status           ObservationStatus
	CurrentPeriodEnd *time.Time // nil for lifetime products
	RawPayload       json.RawMessage
	ObservedAt       time.Time
	Superseded       bool
	CreatedAt        time.Time
}

// Contributing reports whether the observation can contribute a tier at the
// given instant: active or in grace, not superseded, and not past its period
// end (nil period end means a lifetime product).
func (o SubscriptionObservation) Contributing(now time.Time) bool {
	if o.Superseded {
		return false
	}
	if o.Status != ObservationActive && o.Status != ObservationInGrace {
		return false
	}
	if o.CurrentPeriodEnd != nil && !o.CurrentPeriodEnd.After(now) {
		return false
	}
	return true
}

// ObservationStore persists the append-mostly observation log.
type ObservationStore interface {
	// Upsert inserts the observation or, when a row with the same
	// (store, external_tx_id) exists, overwrites it only if the new
	// observed_at is not older than the stored one. The compare-and-set
	// happens at the storage layer. Returns false when the delivery was
	// stale and discarded.
	Upsert(ctx context.Context, obs SubscriptionObservation) (bool, error)

	// ListForUser returns every observation linked to the user, newest first.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]SubscriptionObservation, error)

	// AttachUser links orphaned observations stored under a store account id
	// to a user, returning how many rows were promoted.
	AttachUser(ctx context.Context, store Store, storeAccountID string, userID uuid.UUID) (int64, error)
}
