package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// PlayStoreVerifier checks a purchase token against the Play developer API.
type PlayStoreVerifier struct {
	baseURL     string
	packageName string
	client      *http.Client
}

var _ Verifier = (*PlayStoreVerifier)(nil)

func NewPlayStoreVerifier(baseURL, packageName string) *PlayStoreVerifier {
	return &PlayStoreVerifier{
		baseURL:     baseURL,
		packageName: packageName,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// playSubscription mirrors the subscription purchase resource. The Play API
// serializes millisecond timestamps as strings.
type playSubscription struct {
	OrderID            string          `json:"orderId"`
	ExpiryTimeMillis   json.RawMessage `json:"expiryTimeMillis"`
	AutoRenewing       bool            `json:"autoRenewing"`
	CancelReason       *int            `json:"cancelReason"`
	ObfuscatedAccount  string          `json:"obfuscatedExternalAccountId"`
}

func (v *PlayStoreVerifier) Verify(ctx context.Context, ref Ref) (*VerifiedPurchase, error) {
	if ref.PurchaseToken == "" || ref.StoreSKU == "" {
		return nil, fmt.Errorf("play store verify: missing purchase token or sku")
	}

	url := fmt.Sprintf("%s/androidpublisher/v3/applications/%s/purchases/subscriptions/%s/tokens/%s",
		v.baseURL, v.packageName, ref.StoreSKU, ref.PurchaseToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ErrPurchaseNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, Transient(fmt.Errorf("play store verify: status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("play store verify: status %d: %s", resp.StatusCode, body)
	}

	var sub playSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("play store verify: decode response: %w", err)
	}

	return normalizePlaySubscription(ref, &sub), nil
}

func normalizePlaySubscription(ref Ref, sub *playSubscription) *VerifiedPurchase {
	p := &VerifiedPurchase{
		Store:          domain.StorePlayStore,
		ExternalTxID:   sub.OrderID,
		StoreSKU:       ref.StoreSKU,
		StoreAccountID: ref.PurchaseToken,
		LinkedUserID:   sub.ObfuscatedAccount,
		VerifiedAt:     time.Now().UTC(),
	}
	if p.ExternalTxID == "" {
		p.ExternalTxID = ref.PurchaseToken
	}

	if millis, ok := parseEpochMillis(sub.ExpiryTimeMillis); ok && millis > 0 {
		t := time.UnixMilli(millis).UTC()
		p.ExpiresAt = &t
	}

	if sub.CancelReason != nil {
		p.Canceled = true
	} else {
		p.Canceled = !sub.AutoRenewing
	}

	return p
}
