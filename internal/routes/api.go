package routes

import (
	"github.com/IsaiahDupree/everreach/internal/middleware"
	"github.com/IsaiahDupree/everreach/internal/router"
)

// RegisterAPIRoutes registers the client-facing API. All routes require a
// gateway-authenticated user.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	api := r.Group(middleware.WithUser, middleware.RequireUser,
		middleware.MaxBodySize(middleware.SmallMaxBodySize))

	api.Get("/api/v1/entitlement", deps.Entitlement.Get)
	api.Get("/api/v1/entitlement/history", deps.Entitlement.History)
	api.Get("/api/v1/entitlement/features/{key}", deps.Entitlement.Feature)

	api.Post("/api/v1/sync", deps.Sync.Report)

	api.Post("/api/v1/usage/sessions", deps.Usage.RecordSession)
	api.Get("/api/v1/usage", deps.Usage.Get)

	api.Post("/api/v1/link", deps.Link.Link)
}

// RegisterAdminRoutes registers operator-only maintenance routes.
func RegisterAdminRoutes(r *router.Router, deps AdminDeps) {
	admin := r.Group(middleware.RequireOperator(deps.OperatorToken),
		middleware.MaxBodySize(middleware.SmallMaxBodySize))

	admin.Post("/api/v1/admin/usage/reset", deps.Admin.ResetUsage)
	admin.Post("/api/v1/admin/recompute", deps.Admin.Recompute)
}
