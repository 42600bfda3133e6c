// Package routes wires handlers onto the router.
package routes

import (
	"net/http"

	"github.com/IsaiahDupree/everreach/internal/handler"
	"github.com/IsaiahDupree/everreach/internal/handler/webhook"
)

// APIDeps contains dependencies for the client-facing API routes.
type APIDeps struct {
	Entitlement *handler.EntitlementHandler
	Sync        *handler.SyncHandler
	Usage       *handler.UsageHandler
	Link        *handler.LinkHandler
}

// AdminDeps contains dependencies for operator routes.
type AdminDeps struct {
	Admin *handler.AdminHandler

	// OperatorToken guards every admin route.
	OperatorToken string
}

// WebhookDeps contains dependencies for store webhook routes.
type WebhookDeps struct {
	Card      *webhook.CardHandler
	AppStore  *webhook.AppStoreHandler
	PlayStore *webhook.PlayStoreHandler
}

// OpsDeps contains dependencies for operational endpoints.
type OpsDeps struct {
	MetricsHandler http.Handler
	Health         http.HandlerFunc
}
