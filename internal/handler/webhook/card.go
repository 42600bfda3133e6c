// Package webhook ingests store lifecycle notifications. Every handler
// treats the webhook body as a hint: the referenced purchase is re-verified
// against the store before anything is written.
package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/IsaiahDupree/everreach/internal/domain"
	"github.com/IsaiahDupree/everreach/internal/handler"
	"github.com/IsaiahDupree/everreach/internal/middleware"
	"github.com/IsaiahDupree/everreach/internal/service"
	"github.com/IsaiahDupree/everreach/internal/telemetry"
	"github.com/IsaiahDupree/everreach/internal/verify"
)

// CardHandler handles card billing provider webhook events.
type CardHandler struct {
	ingest        *service.IngestService
	webhookSecret string
	metrics       *telemetry.BusinessMetrics
}

func NewCardHandler(ingest *service.IngestService, webhookSecret string, metrics *telemetry.BusinessMetrics) *CardHandler {
	return &CardHandler{
		ingest:        ingest,
		webhookSecret: webhookSecret,
		metrics:       metrics,
	}
}

// HandleWebhook handles POST /webhooks/card
//
// Malformed or unhandled events are acknowledged with 200 so the provider
// stops redelivering them; only transient verification failures and storage
// errors return retryable statuses.
func (h *CardHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := middleware.GetLogger(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("card webhook: failed to read body", "error", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	signatureHeader := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(body, signatureHeader, h.webhookSecret)
	if err != nil {
		logger.Error("card webhook: signature verification failed", "error", err)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	h.countReceived(string(event.Type))

	subscriptionID, ok := subscriptionIDFromEvent(event)
	if !ok {
		// Not a subscription lifecycle event, or the payload lacks the
		// reference. Ack so the provider does not redeliver.
		logger.Info("card webhook: ignoring event", "type", event.Type)
		h.countFailed("malformed")
		w.WriteHeader(http.StatusOK)
		return
	}

	observedAt := time.Unix(event.Created, 0).UTC()
	_, err = h.ingest.Ingest(r.Context(), domain.StoreCard, verify.Ref{SubscriptionID: subscriptionID}, observedAt, body)
	if err != nil {
		if domain.ErrorCode(err) == domain.EUNAVAILABLE {
			h.countFailed("verify_failed")
			handler.ErrorResponse(w, r, err)
			return
		}
		h.countFailed("storage")
		handler.ErrorResponse(w, r, err)
		return
	}

	h.countProcessed(string(event.Type))
	if h.metrics != nil {
		h.metrics.WebhookLatency.WithLabelValues(string(domain.StoreCard)).Observe(time.Since(start).Seconds())
	}
	w.WriteHeader(http.StatusOK)
}

// subscriptionIDFromEvent pulls the subscription reference out of the event
// payload: the object id for subscription events, the subscription field for
// invoice events.
func subscriptionIDFromEvent(event stripe.Event) (string, bool) {
	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(event.Data.Raw, &obj); err != nil || obj.ID == "" {
			return "", false
		}
		return obj.ID, true

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var obj struct {
			Subscription string `json:"subscription"`
		}
		if err := json.Unmarshal(event.Data.Raw, &obj); err != nil || obj.Subscription == "" {
			return "", false
		}
		return obj.Subscription, true
	}
	return "", false
}

func (h *CardHandler) countReceived(eventType string) {
	if h.metrics != nil {
		h.metrics.WebhookReceived.WithLabelValues(string(domain.StoreCard), eventType).Inc()
	}
}

func (h *CardHandler) countProcessed(eventType string) {
	if h.metrics != nil {
		h.metrics.WebhookProcessed.WithLabelValues(string(domain.StoreCard), eventType).Inc()
	}
}

func (h *CardHandler) countFailed(reason string) {
	if h.metrics != nil {
		h.metrics.WebhookFailed.WithLabelValues(string(domain.StoreCard), reason).Inc()
	}
}
