// Package verify contains the per-store verification clients. Verification
// against the platform's own API is the trust boundary: webhook payloads can
// be replayed or spoofed, so status is only ever derived from a verified
// response, never from the inbound body.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// ErrPurchaseNotFound is returned when the platform does not recognize the
// purchase or subscription. Callers treat this as a terminal expired state,
// not as a failure.
var ErrPurchaseNotFound = errors.New("verify: purchase not found")

// TransientError marks a retryable verification failure (timeout, 5xx,
// connection refused). Webhook transports surface it so the platform's own
// retry mechanism redelivers; state is never fabricated from unverified data.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("verify: transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable verification failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a retryable verification failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Ref identifies the purchase to verify. Stores use different identifiers:
// the card provider keys on subscription id, mobile stores on purchase token
// plus SKU.
type Ref struct {
	SubscriptionID string
	PurchaseToken  string
	StoreSKU       string
}

// VerifiedPurchase is the platform-confirmed state of one subscription.
type VerifiedPurchase struct {
	Store          domain.Store
	ExternalTxID   string
	StoreSKU       string
	StoreAccountID string

	// LinkedUserID is the store-specific linking field recorded at checkout
	// (e.g. an obfuscated account id). Empty when the store reported none;
	// the observation is then stored keyed by StoreAccountID until the user
	// links their account.
	LinkedUserID string

	// ExpiresAt is nil for lifetime products.
	ExpiresAt *time.Time

	// Canceled is set when the platform reports a cancellation that has not
	// yet reached hard expiry.
	Canceled bool

	VerifiedAt time.Time
}

// Status derives the normalized observation status from the verified state:
// future expiry means active, canceled-but-not-expired means in grace,
// anything else is expired.
func (p *VerifiedPurchase) Status(now time.Time) domain.ObservationStatus {
	inPeriod := p.ExpiresAt == nil || p.ExpiresAt.After(now)
	switch {
	case inPeriod && p.Canceled:
		return domain.ObservationInGrace
	case inPeriod:
		return domain.ObservationActive
	default:
		return domain.ObservationExpired
	}
}

// Verifier confirms a purchase against one platform's source of truth.
// Implementations bound the request with the context deadline and their own
// client timeout, and are never called while holding a per-user lock.
type Verifier interface {
	Verify(ctx context.Context, ref Ref) (*VerifiedPurchase, error)
}
