package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/verify"
)

func pubsubEnvelope(t *testing.T, notification interface{}) string {
	t.Helper()
	data, err := json.Marshal(notification)
	require.NoError(t, err)
	return fmt.Sprintf(`{"message": {"data": %q, "messageId": "m1"}, "subscription": "projects/p/subscriptions/s"}`,
		base64.StdEncoding.EncodeToString(data))
}

func playNotification(eventTime time.Time, notificationType int, token, sku string) map[string]interface{} {
	return map[string]interface{}{
		"version":         "1.0",
		"packageName":     "com.everreach.app",
		"eventTimeMillis": strconv.FormatInt(eventTime.UnixMilli(), 10),
		"subscriptionNotification": map[string]interface{}{
			"version":          "1.0",
			"notificationType": notificationType,
			"purchaseToken":    token,
			"subscriptionId":   sku,
		},
	}
}

func postPlayStoreWebhook(h *PlayStoreHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/playstore", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	return rec
}

func Test_PlayStoreWebhook_NotificationIngested(t *testing.T) {
	verifier := activeVerifier(domain.StorePlayStore)
	ingest, obs := newTestIngest(t, verifier)
	h := NewPlayStoreHandler(ingest, nil)

	eventTime := time.Now().Add(-time.Minute)
	body := pubsubEnvelope(t, playNotification(eventTime, 2, "tok_abc", "everreach_pro_monthly"))
	rec := postPlayStoreWebhook(h, body)

	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, verifier.Calls, 1)
	assert.Equal(t, "tok_abc", verifier.Calls[0].PurchaseToken)
	assert.Equal(t, "everreach_pro_monthly", verifier.Calls[0].StoreSKU)

	require.Len(t, obs.upserts, 1)
	assert.Equal(t, time.UnixMilli(eventTime.UnixMilli()).UTC(), obs.upserts[0].ObservedAt)
}

func Test_PlayStoreWebhook_TestNotificationAcked(t *testing.T) {
	ingest, obs := newTestIngest(t, activeVerifier(domain.StorePlayStore))
	h := NewPlayStoreHandler(ingest, nil)

	body := pubsubEnvelope(t, map[string]interface{}{
		"version":          "1.0",
		"packageName":      "com.everreach.app",
		"eventTimeMillis":  strconv.FormatInt(time.Now().UnixMilli(), 10),
		"testNotification": map[string]interface{}{"version": "1.0"},
	})
	rec := postPlayStoreWebhook(h, body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, obs.upserts)
}

func Test_PlayStoreWebhook_MalformedEnvelopeAcked(t *testing.T) {
	ingest, obs := newTestIngest(t, activeVerifier(domain.StorePlayStore))
	h := NewPlayStoreHandler(ingest, nil)

	for _, body := range []string{
		`not json`,
		`{"message": {}}`,
		`{"message": {"data": "!!!notbase64!!!"}}`,
	} {
		rec := postPlayStoreWebhook(h, body)
		assert.Equal(t, http.StatusOK, rec.Code, "body %q", body)
	}
	assert.Empty(t, obs.upserts)
}

func Test_PlayStoreWebhook_TransientVerifyFailureIsRetryable(t *testing.T) {
	verifier := &verify.MockVerifier{
		VerifyFunc: func(ctx context.Context, ref verify.Ref) (*verify.VerifiedPurchase, error) {
			return nil, verify.Transient(errors.New("play api down"))
		},
	}
	ingest, obs := newTestIngest(t, verifier)
	h := NewPlayStoreHandler(ingest, nil)

	body := pubsubEnvelope(t, playNotification(time.Now(), 3, "tok_abc", "everreach_pro_monthly"))
	rec := postPlayStoreWebhook(h, body)

	// Pub/Sub redelivers on non-2xx, which is exactly what a transient
	// verification failure needs.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, obs.upserts)
}

func Test_PlayStoreWebhook_RawPayloadIsDecodedNotification(t *testing.T) {
	ingest, obs := newTestIngest(t, activeVerifier(domain.StorePlayStore))
	h := NewPlayStoreHandler(ingest, nil)

	body := pubsubEnvelope(t, playNotification(time.Now(), 4, "tok_abc", "everreach_core_monthly"))
	rec := postPlayStoreWebhook(h, body)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, obs.upserts, 1)

	// The stored payload is the decoded developer notification, not the
	// Pub/Sub wrapper.
	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal(obs.upserts[0].RawPayload, &stored))
	assert.Equal(t, "com.everreach.app", stored["packageName"])
}
