package webhook

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/handler"
	"github.com/IsaiahDupree/everreach/internal/middleware"
	"github.com/IsaiahDupree/everreach/internal/service"
	"github.com/IsaiahDupree/everreach/internal/telemetry"
	"github.com/IsaiahDupree/everreach/internal/verify"
)

// AppStoreHandler handles App Store server notifications (V2).
type AppStoreHandler struct {
	ingest  *service.IngestService
	metrics *telemetry.BusinessMetrics
}

func NewAppStoreHandler(ingest *service.IngestService, metrics *telemetry.BusinessMetrics) *AppStoreHandler {
	return &AppStoreHandler{ingest: ingest, metrics: metrics}
}

// appStoreNotification is the decoded responseBodyV2DecodedPayload.
type appStoreNotification struct {
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	SignedDate       int64  `json:"signedDate"`
	Data             struct {
		BundleID              string `json:"bundleId"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	} `json:"data"`
}

// appStoreTransactionInfo is the slice of the decoded transaction payload
// the handler needs to build a verification reference.
type appStoreTransactionInfo struct {
	TransactionID string `json:"transactionId"`
	OriginalTxID  string `json:"originalTransactionId"`
	ProductID     string `json:"productId"`
}

// HandleWebhook handles POST /webhooks/appstore
//
// The envelope is a JWS triple; the claims are read from the middle segment
// and the referenced transaction is then re-verified against the App Store
// server API, which is what actually authenticates the data.
func (h *AppStoreHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := middleware.GetLogger(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("app store webhook: failed to read body", "error", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var envelope struct {
		SignedPayload string `json:"signedPayload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.SignedPayload == "" {
		logger.Warn("app store webhook: malformed envelope", "error", err)
		h.countFailed("malformed")
		w.WriteHeader(http.StatusOK)
		return
	}

	var notification appStoreNotification
	if err := decodeJWSPayload(envelope.SignedPayload, &notification); err != nil {
		logger.Warn("app store webhook: undecodable payload", "error", err)
		h.countFailed("malformed")
		w.WriteHeader(http.StatusOK)
		return
	}

	h.countReceived(notification.NotificationType)

	var tx appStoreTransactionInfo
	if err := decodeJWSPayload(notification.Data.SignedTransactionInfo, &tx); err != nil {
		logger.Warn("app store webhook: undecodable transaction info",
			"type", notification.NotificationType, "error", err)
		h.countFailed("malformed")
		w.WriteHeader(http.StatusOK)
		return
	}

	transactionID := tx.OriginalTxID
	if transactionID == "" {
		transactionID = tx.TransactionID
	}
	if transactionID == "" {
		logger.Warn("app store webhook: notification without transaction id",
			"type", notification.NotificationType)
		h.countFailed("malformed")
		w.WriteHeader(http.StatusOK)
		return
	}

	observedAt := time.Now().UTC()
	if notification.SignedDate > 0 {
		observedAt = time.UnixMilli(notification.SignedDate).UTC()
	}

	ref := verify.Ref{PurchaseToken: transactionID, StoreSKU: tx.ProductID}
	_, err = h.ingest.Ingest(r.Context(), domain.StoreAppStore, ref, observedAt, body)
	if err != nil {
		if domain.ErrorCode(err) == domain.EUNAVAILABLE {
			h.countFailed("verify_failed")
		} else {
			h.countFailed("storage")
		}
		handler.ErrorResponse(w, r, err)
		return
	}

	h.countProcessed(notification.NotificationType)
	if h.metrics != nil {
		h.metrics.WebhookLatency.WithLabelValues(string(domain.StoreAppStore)).Observe(time.Since(start).Seconds())
	}
	w.WriteHeader(http.StatusOK)
}

// decodeJWSPayload extracts and decodes the claims segment of a JWS string.
func decodeJWSPayload(jws string, dst interface{}) error {
	parts := strings.Split(jws, ".")
	if len(parts) != 3 {
		return errMalformedJWS
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dst)
}

var errMalformedJWS = errors.New("webhook: malformed JWS")

func (h *AppStoreHandler) countReceived(notificationType string) {
	if h.metrics != nil {
		h.metrics.WebhookReceived.WithLabelValues(string(domain.StoreAppStore), notificationType).Inc()
	}
}

func (h *AppStoreHandler) countProcessed(notificationType string) {
	if h.metrics != nil {
		h.metrics.WebhookProcessed.WithLabelValues(string(domain.StoreAppStore), notificationType).Inc()
	}
}

func (h *AppStoreHandler) countFailed(reason string) {
	if h.metrics != nil {
		h.metrics.WebhookFailed.WithLabelValues(string(domain.StoreAppStore), reason).Inc()
	}
}
