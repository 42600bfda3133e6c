package routes

import (
	"github.com/IsaiahDupree/everreach/internal/middleware"
	"github.com/IsaiahDupree/everreach/internal/router"
)

// RegisterWebhookRoutes registers the store notification endpoints.
//
// Webhook routes carry no authentication middleware. The card handler
// verifies the provider signature; the mobile-store handlers authenticate
// their data by re-verifying every referenced purchase against the store API.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	hooks := r.Group(middleware.MaxBodySize(middleware.SmallMaxBodySize))

	hooks.Post("/webhooks/card", deps.Card.HandleWebhook)
	hooks.Post("/webhooks/appstore", deps.AppStore.HandleWebhook)
	hooks.Post("/webhooks/playstore", deps.PlayStore.HandleWebhook)
}

// RegisterOpsRoutes registers health and metrics endpoints.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Get("/health", deps.Health)
	r.Handle("GET", "/metrics", deps.MetricsHandler)
}
