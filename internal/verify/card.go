package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// CardVerifier confirms card-provider subscriptions by fetching the
// subscription from the billing API. The webhook body's status field is
// ignored; only the fetched state counts.
type CardVerifier struct{}

var _ Verifier = (*CardVerifier)(nil)

// NewCardVerifier configures the billing SDK and returns a verifier.
// The API key is process-global in the SDK, so this should be called once
// during startup.
func NewCardVerifier(apiKey string) *CardVerifier {
	stripe.Key = apiKey
	return &CardVerifier{}
}

// Verify fetches the subscription identified by ref.SubscriptionID.
func (v *CardVerifier) Verify(ctx context.Context, ref Ref) (*VerifiedPurchase, error) {
	if ref.SubscriptionID == "" {
		return nil, fmt.Errorf("card verify: missing subscription id")
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(ref.SubscriptionID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	return normalizeCardSubscription(sub), nil
}

func normalizeCardSubscription(sub *stripe.Subscription) *VerifiedPurchase {
	p := &VerifiedPurchase{
		Store:        domain.StoreCard,
		ExternalTxID: sub.ID,
		VerifiedAt:   time.Now().UTC(),
	}

	if sub.Customer != nil {
		p.StoreAccountID = sub.Customer.ID
	}

	// The checkout flow records the user id in subscription metadata; absent
	// metadata leaves the observation keyed by customer id until linked.
	p.LinkedUserID = sub.Metadata["user_id"]

	// Period end lives on the items; take the latest across them.
	var periodEnd int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.CurrentPeriodEnd > periodEnd {
				periodEnd = item.CurrentPeriodEnd
			}
			if p.StoreSKU == "" && item.Price != nil {
				p.StoreSKU = item.Price.ID
			}
		}
	}
	if periodEnd > 0 {
		t := time.Unix(periodEnd, 0).UTC()
		p.ExpiresAt = &t
	}

	switch sub.Status {
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		p.Canceled = true
		// A hard-terminated subscription no longer grants access regardless
		// of the recorded period end.
		now := time.Now().UTC()
		p.ExpiresAt = &now
	default:
		p.Canceled = sub.CancelAtPeriodEnd
	}

	return p
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == 404 {
			return ErrPurchaseNotFound
		}
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429 {
			return Transient(err)
		}
		return err
	}
	// Network-level failures (no structured response) are retryable.
	return Transient(err)
}
