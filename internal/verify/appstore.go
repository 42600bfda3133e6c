package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

// AppStoreVerifier checks a transaction against the App Store server API.
type AppStoreVerifier struct {
	baseURL string
	client  *http.Client
}

var _ Verifier = (*AppStoreVerifier)(nil)

func NewAppStoreVerifier(baseURL string) *AppStoreVerifier {
	return &AppStoreVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// appStoreTransaction mirrors the decoded transaction info returned by the
// App Store server API. Timestamps are epoch milliseconds.
type appStoreTransaction struct {
	TransactionID       string `json:"transactionId"`
	OriginalTxID        string `json:"originalTransactionId"`
	ProductID           string `json:"productId"`
	ExpiresDateMillis   int64  `json:"expiresDate"`
	RevocationDate      int64  `json:"revocationDate"`
	AppAccountToken     string `json:"appAccountToken"`
	AutoRenewStatus     *int   `json:"autoRenewStatus"`
	OriginalPurchaseRaw int64  `json:"originalPurchaseDate"`
}

func (v *AppStoreVerifier) Verify(ctx context.Context, ref Ref) (*VerifiedPurchase, error) {
	if ref.PurchaseToken == "" {
		return nil, fmt.Errorf("app store verify: missing transaction id")
	}

	url := fmt.Sprintf("%s/inApps/v1/transactions/%s", v.baseURL, ref.PurchaseToken)
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
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrPurchaseNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, Transient(fmt.Errorf("app store verify: status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("app store verify: status %d: %s", resp.StatusCode, body)
	}

	var tx appStoreTransaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, fmt.Errorf("app store verify: decode response: %w", err)
	}

	return normalizeAppStoreTransaction(&tx), nil
}

func normalizeAppStoreTransaction(tx *appStoreTransaction) *VerifiedPurchase {
	p := &VerifiedPurchase{
		Store:          domain.StoreAppStore,
		ExternalTxID:   tx.OriginalTxID,
		StoreSKU:       tx.ProductID,
		StoreAccountID: tx.OriginalTxID,
		LinkedUserID:   tx.AppAccountToken,
		VerifiedAt:     time.Now().UTC(),
	}
	if p.ExternalTxID == "" {
		p.ExternalTxID = tx.TransactionID
	}

	if tx.ExpiresDateMillis > 0 {
		t := time.UnixMilli(tx.ExpiresDateMillis).UTC()
		p.ExpiresAt = &t
	}

	if tx.RevocationDate > 0 {
		p.Canceled = true
		t := time.UnixMilli(tx.RevocationDate).UTC()
		p.ExpiresAt = &t
	} else if tx.AutoRenewStatus != nil && *tx.AutoRenewStatus == 0 {
		// The field is a pointer so a transaction payload without it is not
		// mistaken for auto-renew turned off.
		p.Canceled = true
	}

	return p
}

// parseEpochMillis tolerates both numeric and string millisecond timestamps,
// which the notification payloads use interchangeably.
func parseEpochMillis(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
