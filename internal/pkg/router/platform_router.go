package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Tenantly/app/controllers"
)

// PlatformRouter serves the operator API. Requests never resolve a tenant.
type PlatformRouter struct {
	deps Deps
}

func (h PlatformRouter) InstallRouter(app *fiber.App) {
	pc := controllers.NewPlatformController(
		h.deps.Repos,
		h.deps.Provisioner,
		h.deps.Connections,
		h.deps.Directory,
		h.deps.Plugins,
		h.deps.Hooks,
	)

	platform := app.Group("/platform/api", h.deps.adminAuth())

	// Tenants
	platform.Get("/tenants", pc.HandleListTenants)
	platform.Post("/tenants", pc.HandleCreateTenant)
	platform.Patch("/tenants/:id/status", pc.HandleUpdateStatus)
	platform.Delete("/tenants/:id/connection", pc.HandleEvictTenant)
	platform.Post("/tenants/:id/plugins/:pluginId", pc.HandleInstallPlugin)
	platform.Delete("/regions/:region/connection", pc.HandleEvictRegion)

	// Plugin registry
	platform.Get("/plugins", pc.HandleListPlugins)
	platform.Post("/plugins/:id/approve", pc.HandleApprovePlugin)
	platform.Post("/plugins/:id/revoke", pc.HandleRevokePlugin)
}

func NewPlatformRouter(deps Deps) *PlatformRouter {
	return &PlatformRouter{deps: deps}
}
