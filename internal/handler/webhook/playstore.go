package webhook

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/handler"
	"github.com/IsaiahDupree/everreach/internal/middleware"
	"github.com/IsaiahDupree/everreach/internal/service"
	"github.com/IsaiahDupree/everreach/internal/telemetry"
	"github.com/IsaiahDupree/everreach/internal/verify"
)

// PlayStoreHandler handles Play real-time developer notifications delivered
// as Pub/Sub push messages.
type PlayStoreHandler struct {
	ingest  *service.IngestService
	metrics *telemetry.BusinessMetrics
}

func NewPlayStoreHandler(ingest *service.IngestService, metrics *telemetry.BusinessMetrics) *PlayStoreHandler {
	return &PlayStoreHandler{ingest: ingest, metrics: metrics}
}

// developerNotification is the decoded Pub/Sub message data.
type developerNotification struct {
	PackageName              string `json:"packageName"`
	EventTimeMillis          string `json:"eventTimeMillis"`
	SubscriptionNotification *struct {
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionID   string `json:"subscriptionId"`
	} `json:"subscriptionNotification"`
}

// HandleWebhook handles POST /webhooks/playstore
func (h *PlayStoreHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := middleware.GetLogger(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("play store webhook: failed to read body", "error", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var push struct {
		Message struct {
			Data string `json:"data"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &push); err != nil || push.Message.Data == "" {
		logger.Warn("play store webhook: malformed push envelope", "error", err)
		h.countFailed("malformed")
		w.WriteHeader(http.StatusOK)
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		logger.Warn("play store webhook: undecodable message data", "error", err)
		h.countFailed("malformed")
		w.WriteHeader(http.StatusOK)
		return
	}

	var notification developerNotification
	if err := json.Unmarshal(decoded, &notification); err != nil {
		logger.Warn("play store webhook: malformed notification", "error", err)
		h.countFailed("malformed")
		w.WriteHeader(http.StatusOK)
		return
	}

	sub := notification.SubscriptionNotification
	if sub == nil || sub.PurchaseToken == "" || sub.SubscriptionID == "" {
		// Test notifications and one-time product events carry no
		// subscription; ack them.
		logger.Info("play store webhook: ignoring non-subscription notification",
			"package", notification.PackageName)
		h.countReceived("other")
		w.WriteHeader(http.StatusOK)
		return
	}

	eventType := strconv.Itoa(sub.NotificationType)
	h.countReceived(eventType)

	observedAt := time.Now().UTC()
	if millis, err := strconv.ParseInt(notification.EventTimeMillis, 10, 64); err == nil && millis > 0 {
		observedAt = time.UnixMilli(millis).UTC()
	}

	ref := verify.Ref{PurchaseToken: sub.PurchaseToken, StoreSKU: sub.SubscriptionID}
	_, err = h.ingest.Ingest(r.Context(), domain.StorePlayStore, ref, observedAt, decoded)
	if err != nil {
		if domain.ErrorCode(err) == domain.EUNAVAILABLE {
			h.countFailed("verify_failed")
		} else {
			h.countFailed("storage")
		}
		handler.ErrorResponse(w, r, err)
		return
	}

	h.countProcessed(eventType)
	if h.metrics != nil {
		h.metrics.WebhookLatency.WithLabelValues(string(domain.StorePlayStore)).Observe(time.Since(start).Seconds())
	}
	w.WriteHeader(http.StatusOK)
}

func (h *PlayStoreHandler) countReceived(eventType string) {
	if h.metrics != nil {
		h.metrics.WebhookReceived.WithLabelValues(string(domain.StorePlayStore), eventType).Inc()
	}
}

func (h *PlayStoreHandler) countProcessed(eventType string) {
	if h.metrics != nil {
		h.metrics.WebhookProcessed.WithLabelValues(string(domain.StorePlayStore), eventType).Inc()
	}
}

func (h *PlayStoreHandler) countFailed(reason string) {
	if h.metrics != nil {
		h.metrics.WebhookFailed.WithLabelValues(string(domain.StorePlayStore), reason).Inc()
	}
}
